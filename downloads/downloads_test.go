package downloads

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for name, body := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())
}

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	tw := tar.NewWriter(gz)
	for name, body := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(body)), Typeflag: tar.TypeReg}))
		_, err := tw.Write([]byte(body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(b)
}

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("weights"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "model.onnx")
	var last int64
	require.NoError(t, DownloadFile(context.Background(), dest, srv.URL+"/model.onnx", func(done, total int64) { last = done }))
	assert.Equal(t, "weights", readFile(t, dest))
	assert.Equal(t, int64(7), last)
}

func TestDownloadFileResumes(t *testing.T) {
	const body = "0123456789"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if rng == "" {
			w.Write([]byte(body))
			return
		}
		start, _ := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(rng, "bytes="), "-"))
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, len(body)-1, len(body)))
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte(body[start:]))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(dest, []byte(body[:4]), 0644))
	require.NoError(t, DownloadFile(context.Background(), dest, srv.URL, nil))
	assert.Equal(t, body, readFile(t, dest))
}

func TestDownloadFileBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()
	err := DownloadFile(context.Background(), filepath.Join(t.TempDir(), "f"), srv.URL, nil)
	assert.ErrorContains(t, err, "404")
}

func TestDownloadWithRetry(t *testing.T) {
	old := RetryDelay
	RetryDelay = 0
	defer func() { RetryDelay = old }()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "f")
	require.NoError(t, DownloadWithRetry(context.Background(), dest, srv.URL, nil))
	assert.Equal(t, "ok", readFile(t, dest))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestFetchCaches(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write([]byte("payload"))
	}))
	defer srv.Close()

	cache := t.TempDir()
	var stages []Stage
	cb := func(p Progress) { stages = append(stages, p.Stage) }

	first, err := Fetch(context.Background(), srv.URL+"/models/net.onnx", cache, cb)
	require.NoError(t, err)
	second, err := Fetch(context.Background(), srv.URL+"/models/net.onnx", cache, cb)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasSuffix(first, "_net.onnx"))
	assert.Equal(t, "payload", readFile(t, first))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Contains(t, stages, StageComplete)
	_, err = os.Stat(first + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestFetchLocalPathUnchanged(t *testing.T) {
	p, err := Fetch(context.Background(), "./pretrained_models/x.onnx", t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, "./pretrained_models/x.onnx", p)
}

func TestCacheName(t *testing.T) {
	name, err := CacheName("https://example.com:8443/a/b/model.onnx?x=1")
	require.NoError(t, err)
	assert.Regexp(t, `^[0-9a-f]{12}_model\.onnx$`, name)

	same, err := CacheName("https://example.com:8443/a/b/model.onnx?x=1")
	require.NoError(t, err)
	assert.Equal(t, name, same)

	other, err := CacheName("https://example.com:8443/a/c/model.onnx?x=1")
	require.NoError(t, err)
	assert.NotEqual(t, name, other)

	_, err = CacheName("https://example.com/")
	assert.Error(t, err)
}

func TestFetchKeepsSameNamedURLsApart(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	cache := t.TempDir()
	v1, err := Fetch(context.Background(), srv.URL+"/v1/model.onnx", cache, nil)
	require.NoError(t, err)
	v2, err := Fetch(context.Background(), srv.URL+"/v2/model.onnx", cache, nil)
	require.NoError(t, err)

	assert.NotEqual(t, v1, v2)
	assert.Equal(t, "/v1/model.onnx", readFile(t, v1))
	assert.Equal(t, "/v2/model.onnx", readFile(t, v2))
}

func TestSafeJoin(t *testing.T) {
	dest := t.TempDir()
	p, err := safeJoin(dest, "a/b.png")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dest, "a", "b.png"), p)

	_, err = safeJoin(dest, "../x")
	assert.ErrorIs(t, err, ErrUnsafePath)
	_, err = safeJoin(dest, "a/../../x")
	assert.ErrorIs(t, err, ErrUnsafePath)
}

func TestArchiveKind(t *testing.T) {
	assert.Equal(t, "zip", ArchiveKind("DPDD.ZIP"))
	assert.Equal(t, "7z", ArchiveKind("dd_dp_dataset_png.7z"))
	assert.Equal(t, "tar.gz", ArchiveKind("x.tar.gz"))
	assert.Equal(t, "tar.gz", ArchiveKind("x.tgz"))
	assert.Equal(t, "", ArchiveKind("Datasets/DPDD"))
	assert.Equal(t, "DPDD", TrimArchiveExt("DPDD.tar.gz"))
	assert.Equal(t, "DPDD", TrimArchiveExt("DPDD.7z"))

	err := ExtractArchive("x.rar", t.TempDir(), nil)
	assert.ErrorIs(t, err, ErrUnsupportedArchive)
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "a.zip")
	writeZip(t, archive, map[string]string{"top/a.txt": "A", "top/sub/b.txt": "B"})

	dest := filepath.Join(dir, "out")
	var updates int
	require.NoError(t, ExtractZip(archive, dest, func(Progress) { updates++ }))
	assert.Equal(t, "A", readFile(t, filepath.Join(dest, "top", "a.txt")))
	assert.Equal(t, "B", readFile(t, filepath.Join(dest, "top", "sub", "b.txt")))
	assert.Greater(t, updates, 0)
}

func TestExtractRejectsTraversal(t *testing.T) {
	dir := t.TempDir()
	zipPath := filepath.Join(dir, "evil.zip")
	writeZip(t, zipPath, map[string]string{"../escape.txt": "x"})
	assert.Error(t, ExtractZip(zipPath, filepath.Join(dir, "out"), nil))

	tgzPath := filepath.Join(dir, "evil.tar.gz")
	writeTarGz(t, tgzPath, map[string]string{"a/../../escape.txt": "x"})
	assert.Error(t, ExtractTarGz(tgzPath, filepath.Join(dir, "out2"), nil))

	_, err := os.Stat(filepath.Join(dir, "escape.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "a.tar.gz")
	writeTarGz(t, archive, map[string]string{"x/y.txt": "Y"})

	require.NoError(t, ExtractTarGz(archive, filepath.Join(dir, "out"), nil))
	assert.Equal(t, "Y", readFile(t, filepath.Join(dir, "out", "x", "y.txt")))
}

func TestExtractSingleFile(t *testing.T) {
	dir := t.TempDir()
	tgz := filepath.Join(dir, "ort.tgz")
	writeTarGz(t, tgz, map[string]string{
		"onnxruntime-linux-x64-1.22.0/lib/libonnxruntime_providers_shared.so": "providers",
		"onnxruntime-linux-x64-1.22.0/lib/libonnxruntime.so.1.22.0":           "runtime",
	})
	dest := filepath.Join(dir, "onnxruntime.so")
	require.NoError(t, ExtractFileFromTarGz(tgz, dest, func(n string) bool { return IsRuntimeLibrary(n, "linux") }))
	assert.Equal(t, "runtime", readFile(t, dest))

	zp := filepath.Join(dir, "ort.zip")
	writeZip(t, zp, map[string]string{"onnxruntime-win-x64-1.22.0/lib/onnxruntime.dll": "dll"})
	dest = filepath.Join(dir, "onnxruntime.dll")
	require.NoError(t, ExtractFileFromZip(zp, dest, func(n string) bool { return IsRuntimeLibrary(n, "windows") }))
	assert.Equal(t, "dll", readFile(t, dest))

	assert.Error(t, ExtractFileFromZip(zp, dest, func(string) bool { return false }))
}

func TestIsRuntimeLibrary(t *testing.T) {
	assert.True(t, IsRuntimeLibrary("lib/libonnxruntime.so.1.22.0", "linux"))
	assert.False(t, IsRuntimeLibrary("lib/libonnxruntime_providers_cuda.so", "linux"))
	assert.True(t, IsRuntimeLibrary("lib/libonnxruntime.1.22.0.dylib", "darwin"))
	assert.True(t, IsRuntimeLibrary("lib/onnxruntime.dll", "windows"))
	assert.False(t, IsRuntimeLibrary("lib/onnxruntime_providers_shared.dll", "windows"))
}

func TestRuntimeURL(t *testing.T) {
	u, err := RuntimeURL("1.22.0", "linux", "amd64")
	require.NoError(t, err)
	assert.Equal(t, "https://github.com/microsoft/onnxruntime/releases/download/v1.22.0/onnxruntime-linux-x64-1.22.0.tgz", u)

	u, err = RuntimeURL("1.22.0", "windows", "arm64")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u, "onnxruntime-win-arm64-1.22.0.zip"))

	u, err = RuntimeURL("1.22.0", "darwin", "arm64")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(u, "onnxruntime-osx-arm64-1.22.0.tgz"))

	_, err = RuntimeURL("1.22.0", "plan9", "386")
	assert.Error(t, err)
}

func TestInstallRuntimeKeepsExisting(t *testing.T) {
	lib := filepath.Join(t.TempDir(), "onnxruntime.so")
	require.NoError(t, os.WriteFile(lib, []byte("mine"), 0644))
	require.NoError(t, InstallRuntime(context.Background(), lib, t.TempDir(), nil))
	assert.Equal(t, "mine", readFile(t, lib))
}

func TestPrepareDatasetDirectory(t *testing.T) {
	dir := t.TempDir()
	got, err := PrepareDataset(context.Background(), dir, t.TempDir(), "test_l/source", nil)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestPrepareDatasetArchiveOnce(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "DPDD.zip")
	writeZip(t, archive, map[string]string{
		"DPDD/test_l/source/1.png": "l",
		"DPDD/indoor_labels.npy":   "x",
	})
	cache := filepath.Join(dir, "cache")

	root, err := PrepareDataset(context.Background(), archive, cache, "test_l/source", nil)
	require.NoError(t, err)
	assert.Equal(t, "DPDD", filepath.Base(root))
	extracted := filepath.Dir(root)
	assert.Equal(t, filepath.Join(cache, "datasets"), filepath.Dir(extracted))
	assert.True(t, strings.HasSuffix(filepath.Base(extracted), "_DPDD"))
	assert.Equal(t, "l", readFile(t, filepath.Join(root, "test_l", "source", "1.png")))

	// a second call reuses the extraction
	require.NoError(t, os.WriteFile(filepath.Join(root, "sentinel"), nil, 0644))
	again, err := PrepareDataset(context.Background(), archive, cache, "test_l/source", nil)
	require.NoError(t, err)
	assert.Equal(t, root, again)
	_, err = os.Stat(filepath.Join(root, "sentinel"))
	assert.NoError(t, err)
}

func TestPrepareDatasetSameNamedArchivesApart(t *testing.T) {
	dir := t.TempDir()
	cache := filepath.Join(dir, "cache")
	var roots []string
	for _, sub := range []string{"a", "b"} {
		require.NoError(t, os.MkdirAll(filepath.Join(dir, sub), 0755))
		archive := filepath.Join(dir, sub, "DPDD.zip")
		writeZip(t, archive, map[string]string{"test_l/source/1.png": sub})

		root, err := PrepareDataset(context.Background(), archive, cache, "test_l/source", nil)
		require.NoError(t, err)
		assert.Equal(t, sub, readFile(t, filepath.Join(root, "test_l", "source", "1.png")))
		roots = append(roots, root)
	}
	assert.NotEqual(t, roots[0], roots[1])
}

func TestFindRoot(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "a", "b", "test_l", "source"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "z", "test_l", "source"), 0755))

	root, err := FindRoot(dir, "test_l/source")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "z"), root)

	_, err = FindRoot(dir, "missing")
	assert.Error(t, err)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.Equal(t, "1.5 KB", FormatBytes(1536))
	assert.Equal(t, "2.0 MB", FormatBytes(2*1024*1024))
}

func TestProgressPercent(t *testing.T) {
	assert.Equal(t, 50.0, Progress{Done: 5, Total: 10}.Percent())
	assert.Equal(t, 0.0, Progress{Done: 5, Total: -1}.Percent())
}
