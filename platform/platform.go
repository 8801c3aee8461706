// Package platform provides cross-platform locations for the evaluator's
// cache and data directories and the ONNX Runtime library name.
package platform

import (
	"path/filepath"
)

// AppName is the application name used for directory naming
const AppName = "dpeval"

// AppDisplayName is the display name used on macOS and Windows
const AppDisplayName = "DP Deblur Eval"

// GetDataDir returns the application data directory. The default config file
// and the default ONNX Runtime library live here.
// Windows: %APPDATA%\DP Deblur Eval
// Linux: ~/.local/share/dpeval
func GetDataDir() string {
	return getDataDir()
}

// GetCacheDir returns the cache directory for downloaded weights and
// extracted dataset archives.
// Windows: %APPDATA%\DP Deblur Eval
// Linux: ~/.cache/dpeval
func GetCacheDir() string {
	return getCacheDir()
}

// SharedLibExtension returns the shared library extension for the current platform.
// Windows: ".dll"
// Linux: ".so"
func SharedLibExtension() string {
	return sharedLibExtension()
}

// OnnxRuntimeLibPath returns the default location of the onnxruntime shared
// library inside the data directory.
func OnnxRuntimeLibPath() string {
	return filepath.Join(GetDataDir(), "onnxruntime"+SharedLibExtension())
}
