//go:build linux
// +build linux

package platform

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestXDGDirs(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/tmp/xdg-data")
	t.Setenv("XDG_CACHE_HOME", "/tmp/xdg-cache")

	assert.Equal(t, filepath.Join("/tmp/xdg-data", AppName), GetDataDir())
	assert.Equal(t, filepath.Join("/tmp/xdg-cache", AppName), GetCacheDir())
	assert.Equal(t, filepath.Join("/tmp/xdg-data", AppName, "onnxruntime.so"), OnnxRuntimeLibPath())
}
