package downloads

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/stevecastle/dpeval/log"
)

// RuntimeVersion is the ONNX Runtime release matching the Go bindings.
const RuntimeVersion = "1.22.0"

// RuntimeURL returns the release archive URL for goos/arch.
func RuntimeURL(version, goos, arch string) (string, error) {
	base := "https://github.com/microsoft/onnxruntime/releases/download/v" + version + "/onnxruntime-"
	var plat, ext string
	switch goos {
	case "windows":
		ext = ".zip"
		switch arch {
		case "amd64":
			plat = "win-x64"
		case "arm64":
			plat = "win-arm64"
		}
	case "darwin":
		ext = ".tgz"
		switch arch {
		case "amd64":
			plat = "osx-x86_64"
		case "arm64":
			plat = "osx-arm64"
		}
	case "linux":
		ext = ".tgz"
		switch arch {
		case "amd64":
			plat = "linux-x64"
		case "arm64":
			plat = "linux-aarch64"
		}
	}
	if plat == "" {
		return "", fmt.Errorf("no onnx runtime build for %s/%s", goos, arch)
	}
	return base + plat + "-" + version + ext, nil
}

// IsRuntimeLibrary reports whether an archive entry is the main runtime
// library for goos, as opposed to provider plugins or symlinks.
func IsRuntimeLibrary(name, goos string) bool {
	base := path.Base(filepath.ToSlash(name))
	switch goos {
	case "windows":
		return strings.EqualFold(base, "onnxruntime.dll")
	case "darwin":
		return strings.HasPrefix(base, "libonnxruntime.") && strings.HasSuffix(base, ".dylib")
	default:
		return strings.HasPrefix(base, "libonnxruntime.so")
	}
}

// InstallRuntime downloads the ONNX Runtime release for this platform and
// places its shared library at libPath. An existing file is left alone.
func InstallRuntime(ctx context.Context, libPath, cacheDir string, progressCb ProgressCallback) error {
	if exists(libPath) {
		return nil
	}
	url, err := RuntimeURL(RuntimeVersion, runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	archive, err := Fetch(ctx, url, cacheDir, progressCb)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(libPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	match := func(name string) bool { return IsRuntimeLibrary(name, runtime.GOOS) }
	switch ArchiveKind(archive) {
	case "zip":
		err = ExtractFileFromZip(archive, libPath, match)
	case "tar.gz":
		err = ExtractFileFromTarGz(archive, libPath, match)
	default:
		err = fmt.Errorf("%w: %s", ErrUnsupportedArchive, archive)
	}
	if err != nil {
		return fmt.Errorf("install onnx runtime: %w", err)
	}
	log.Infof("installed onnx runtime %s to %s", RuntimeVersion, libPath)
	return nil
}
