package downloads

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/stevecastle/dpeval/log"
)

const (
	// DefaultRetryAttempts is the number of times to retry a failed download.
	DefaultRetryAttempts = 3
	// DefaultBufferSize is the buffer size for file downloads.
	DefaultBufferSize = 32 * 1024 // 32KB
)

// RetryDelay is the delay between retry attempts.
var RetryDelay = 5 * time.Second

// IsURL reports whether s is an http(s) URL.
func IsURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

// DownloadFile downloads a file from a URL to a local path with progress tracking.
// It supports resuming interrupted downloads using HTTP Range headers.
func DownloadFile(ctx context.Context, destPath string, url string, progressCb ByteProgressCallback) error {
	var existingSize int64
	if stat, err := os.Stat(destPath); err == nil {
		existingSize = stat.Size()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if existingSize > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", existingSize))
	}

	client := &http.Client{
		Timeout: 0, // No timeout for large downloads
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		existingSize = 0
	case http.StatusPartialContent:
	case http.StatusRequestedRangeNotSatisfiable:
		// the partial file is already complete
		if existingSize > 0 {
			if progressCb != nil {
				progressCb(existingSize, existingSize)
			}
			return nil
		}
		return fmt.Errorf("bad status: %s", resp.Status)
	default:
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	totalSize := resp.ContentLength
	if totalSize > 0 && existingSize > 0 {
		totalSize += existingSize
	}

	var out *os.File
	if existingSize > 0 {
		out, err = os.OpenFile(destPath, os.O_APPEND|os.O_WRONLY, 0644)
	} else {
		out, err = os.Create(destPath)
	}
	if err != nil {
		return fmt.Errorf("failed to open output file: %w", err)
	}
	defer out.Close()

	downloaded := existingSize
	buffer := make([]byte, DefaultBufferSize)
	lastReport := time.Now()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := resp.Body.Read(buffer)
		if n > 0 {
			if _, writeErr := out.Write(buffer[:n]); writeErr != nil {
				return fmt.Errorf("failed to write to file: %w", writeErr)
			}
			downloaded += int64(n)

			if progressCb != nil && time.Since(lastReport) >= 100*time.Millisecond {
				progressCb(downloaded, totalSize)
				lastReport = time.Now()
			}
		}

		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read response: %w", err)
		}
	}

	if progressCb != nil {
		progressCb(downloaded, totalSize)
	}
	return nil
}

// DownloadWithRetry downloads a file with automatic retry on failure.
func DownloadWithRetry(ctx context.Context, destPath string, url string, progressCb ByteProgressCallback) error {
	var lastErr error

	for attempt := 1; attempt <= DefaultRetryAttempts; attempt++ {
		err := DownloadFile(ctx, destPath, url, progressCb)
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil {
			return err
		}
		if attempt < DefaultRetryAttempts {
			log.Warnf("download of %s failed (attempt %d/%d): %v", url, attempt, DefaultRetryAttempts, err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(RetryDelay):
			}
		}
	}

	return fmt.Errorf("download failed after %d attempts: %w", DefaultRetryAttempts, lastErr)
}

// Fetch returns a local path for source. Local paths are returned unchanged.
// URLs are downloaded once into cacheDir/downloads and reused afterwards.
func Fetch(ctx context.Context, source, cacheDir string, progressCb ProgressCallback) (string, error) {
	if !IsURL(source) {
		return source, nil
	}
	name, err := CacheName(source)
	if err != nil {
		return "", err
	}
	dir := filepath.Join(cacheDir, "downloads")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create cache directory: %w", err)
	}
	dest := filepath.Join(dir, name)
	if info, err := os.Stat(dest); err == nil {
		log.Debugf("using cached %s (%s) for %s", dest, FormatBytes(info.Size()), source)
		return dest, nil
	}

	partial := dest + ".part"
	log.Infof("downloading %s", source)
	err = DownloadWithRetry(ctx, partial, source, func(downloaded, total int64) {
		report(progressCb, Progress{Stage: StageDownloading, Name: name, Done: downloaded, Total: total})
	})
	if err != nil {
		return "", err
	}
	if err := os.Rename(partial, dest); err != nil {
		return "", fmt.Errorf("failed to finalize download: %w", err)
	}
	if info, err := os.Stat(dest); err == nil {
		log.Infof("downloaded %s (%s)", source, FormatBytes(info.Size()))
	}
	report(progressCb, Progress{Stage: StageComplete, Name: name})
	return dest, nil
}

// CacheName derives the cached file name for a URL: a key derived from the
// full URL followed by its last path element.
func CacheName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	base := path.Base(u.Path)
	if base == "." || base == "/" || base == "" {
		return "", fmt.Errorf("url %q has no file name", rawURL)
	}
	return cacheKey(rawURL) + "_" + base, nil
}

// cacheKey returns a short name-based (SHA-1) UUID digest of s.
func cacheKey(s string) string {
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(s))
	return strings.ReplaceAll(id.String(), "-", "")[:12]
}

// FormatBytes formats bytes as human-readable size.
func FormatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
