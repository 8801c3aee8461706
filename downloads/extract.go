package downloads

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bodgit/sevenzip"
)

// ErrUnsupportedArchive is returned for files that are not a known archive type.
var ErrUnsupportedArchive = errors.New("unsupported archive type")

// ErrUnsafePath is returned for archive entries that would escape the
// destination directory.
var ErrUnsafePath = errors.New("archive entry escapes destination")

// ArchiveKind returns "zip", "7z" or "tar.gz" for a recognized archive name,
// or "" otherwise.
func ArchiveKind(name string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return "zip"
	case strings.HasSuffix(lower, ".7z"):
		return "7z"
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return "tar.gz"
	}
	return ""
}

// TrimArchiveExt strips a recognized archive extension from name.
func TrimArchiveExt(name string) string {
	lower := strings.ToLower(name)
	for _, ext := range []string{".tar.gz", ".tgz", ".zip", ".7z"} {
		if strings.HasSuffix(lower, ext) {
			return name[:len(name)-len(ext)]
		}
	}
	return name
}

// ExtractArchive extracts archivePath into destDir, choosing the format by
// file extension.
func ExtractArchive(archivePath, destDir string, progressCb ProgressCallback) error {
	switch ArchiveKind(archivePath) {
	case "zip":
		return ExtractZip(archivePath, destDir, progressCb)
	case "7z":
		return Extract7z(archivePath, destDir, progressCb)
	case "tar.gz":
		return ExtractTarGz(archivePath, destDir, progressCb)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedArchive, archivePath)
}

// safeJoin joins name onto destDir, rejecting absolute names and names with
// ".." components that leave destDir.
func safeJoin(destDir, name string) (string, error) {
	name = filepath.FromSlash(name)
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	dest := filepath.Join(destDir, name)
	rel, err := filepath.Rel(destDir, dest)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return dest, nil
}

func writeFile(destPath string, r io.Reader, name string) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	outFile, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	if _, err := io.Copy(outFile, r); err != nil {
		outFile.Close()
		return fmt.Errorf("failed to extract %s: %w", name, err)
	}
	return outFile.Close()
}

// ExtractZip extracts a ZIP archive to the destination directory.
func ExtractZip(archivePath, destDir string, progressCb ProgressCallback) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer reader.Close()

	total := int64(len(reader.File))
	for i, file := range reader.File {
		if i%10 == 0 {
			report(progressCb, Progress{Stage: StageExtracting, Name: filepath.Base(archivePath), Done: int64(i), Total: total})
		}
		destPath, err := safeJoin(destDir, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}
		if err := extractZipFile(file, destPath); err != nil {
			return err
		}
	}
	report(progressCb, Progress{Stage: StageExtracting, Name: filepath.Base(archivePath), Done: total, Total: total})
	return nil
}

func extractZipFile(file *zip.File, destPath string) error {
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s in archive: %w", file.Name, err)
	}
	defer rc.Close()
	return writeFile(destPath, rc, file.Name)
}

// Extract7z extracts a 7z archive to the destination directory.
func Extract7z(archivePath, destDir string, progressCb ProgressCallback) error {
	reader, err := sevenzip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open 7z archive: %w", err)
	}
	defer reader.Close()

	total := int64(len(reader.File))
	for i, file := range reader.File {
		if i%10 == 0 {
			report(progressCb, Progress{Stage: StageExtracting, Name: filepath.Base(archivePath), Done: int64(i), Total: total})
		}
		destPath, err := safeJoin(destDir, file.Name)
		if err != nil {
			return err
		}
		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
			continue
		}
		if err := extract7zFile(file, destPath); err != nil {
			return err
		}
	}
	report(progressCb, Progress{Stage: StageExtracting, Name: filepath.Base(archivePath), Done: total, Total: total})
	return nil
}

func extract7zFile(file *sevenzip.File, destPath string) error {
	rc, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open %s in archive: %w", file.Name, err)
	}
	defer rc.Close()
	return writeFile(destPath, rc, file.Name)
}

func openTarGz(archivePath string) (*tar.Reader, func(), error) {
	file, err := os.Open(archivePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}
	gzReader, err := gzip.NewReader(file)
	if err != nil {
		file.Close()
		return nil, nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	closer := func() {
		gzReader.Close()
		file.Close()
	}
	return tar.NewReader(gzReader), closer, nil
}

// ExtractTarGz extracts a tar.gz archive. Links and special files are skipped.
func ExtractTarGz(archivePath, destDir string, progressCb ProgressCallback) error {
	tarReader, closer, err := openTarGz(archivePath)
	if err != nil {
		return err
	}
	defer closer()

	var count int64
	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if count%10 == 0 {
			report(progressCb, Progress{Stage: StageExtracting, Name: filepath.Base(archivePath), Done: count, Total: -1})
		}
		count++

		destPath, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return fmt.Errorf("failed to create directory: %w", err)
			}
		case tar.TypeReg:
			if err := writeFile(destPath, tarReader, header.Name); err != nil {
				return err
			}
		}
	}
	report(progressCb, Progress{Stage: StageExtracting, Name: filepath.Base(archivePath), Done: count, Total: count})
	return nil
}

// ExtractFileFromTarGz extracts the first regular file whose name satisfies
// matchFunc to destPath.
func ExtractFileFromTarGz(archivePath, destPath string, matchFunc func(name string) bool) error {
	tarReader, closer, err := openTarGz(archivePath)
	if err != nil {
		return err
	}
	defer closer()

	for {
		header, err := tarReader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read tar: %w", err)
		}
		if header.Typeflag != tar.TypeReg || !matchFunc(header.Name) {
			continue
		}
		return writeFile(destPath, tarReader, header.Name)
	}
	return fmt.Errorf("no matching file found in archive")
}

// ExtractFileFromZip extracts the first file whose name satisfies matchFunc
// to destPath.
func ExtractFileFromZip(archivePath, destPath string, matchFunc func(name string) bool) error {
	reader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open zip archive: %w", err)
	}
	defer reader.Close()

	for _, file := range reader.File {
		if file.FileInfo().IsDir() || !matchFunc(file.Name) {
			continue
		}
		return extractZipFile(file, destPath)
	}
	return fmt.Errorf("no matching file found in archive")
}
