package downloads

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/stevecastle/dpeval/log"
)

const extractedMarker = ".extracted"

// maxRootDepth bounds the search for the dataset root inside an archive.
const maxRootDepth = 3

// PrepareDataset turns source into a local directory. source may be a
// directory, an archive, or an http(s) URL to an archive. Archives are
// extracted into cacheDir/datasets once per archive path. When marker is
// non-empty the returned directory is the shallowest one containing marker.
func PrepareDataset(ctx context.Context, source, cacheDir, marker string, progressCb ProgressCallback) (string, error) {
	local, err := Fetch(ctx, source, cacheDir, progressCb)
	if err != nil {
		return "", err
	}
	if ArchiveKind(local) == "" {
		return local, nil
	}

	abs, err := filepath.Abs(local)
	if err != nil {
		return "", err
	}
	dest := filepath.Join(cacheDir, "datasets", cacheKey(abs)+"_"+TrimArchiveExt(filepath.Base(local)))
	done := filepath.Join(dest, extractedMarker)
	if _, err := os.Stat(done); err != nil {
		log.Infof("extracting %s to %s", local, dest)
		if err := os.RemoveAll(dest); err != nil {
			return "", err
		}
		if err := os.MkdirAll(dest, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
		if err := ExtractArchive(local, dest, progressCb); err != nil {
			return "", err
		}
		if err := os.WriteFile(done, nil, 0644); err != nil {
			return "", err
		}
	}
	if marker == "" {
		return dest, nil
	}
	return FindRoot(dest, marker)
}

var errFound = errors.New("found")

// FindRoot returns the shallowest directory under dir (dir included) that
// contains marker, searching at most a few levels deep.
func FindRoot(dir, marker string) (string, error) {
	if exists(filepath.Join(dir, marker)) {
		return dir, nil
	}
	var root string
	for depth := 1; depth <= maxRootDepth && root == ""; depth++ {
		err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() {
				return nil
			}
			rel, _ := filepath.Rel(dir, p)
			level := 0
			if rel != "." {
				level = strings.Count(rel, string(filepath.Separator)) + 1
			}
			if level > depth {
				return filepath.SkipDir
			}
			if level == depth && exists(filepath.Join(p, marker)) {
				root = p
				return errFound
			}
			return nil
		})
		if err != nil && !errors.Is(err, errFound) {
			return "", err
		}
	}
	if root == "" {
		return "", fmt.Errorf("no directory containing %s under %s", marker, dir)
	}
	return root, nil
}

func exists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
