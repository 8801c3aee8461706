// Package ortsession owns the ONNX Runtime environment and runs float32
// models with shapes that change from call to call.
package ortsession

import (
	"errors"
	"fmt"
	"os"
)

// LibraryPathEnv names the environment variable consulted when
// Options.SharedLibraryPath is empty.
const LibraryPathEnv = "ONNXRUNTIME_SHARED_LIBRARY_PATH"

// ErrCGORequired is returned when ONNX inference is attempted without CGO support.
var ErrCGORequired = errors.New("onnx runtime requires CGO support; rebuild with CGO_ENABLED=1")

// Options configures the runtime shared by every model opened from it.
type Options struct {
	// Path to the onnxruntime shared library (.dll/.so/.dylib). If empty, the
	// environment variable ONNXRUNTIME_SHARED_LIBRARY_PATH will be respected.
	SharedLibraryPath string
	// UseCUDA appends the CUDA execution provider.
	UseCUDA bool
	// IntraOpThreads limits ORT's intra-op thread pool when > 0.
	IntraOpThreads int
}

func (o Options) libraryPath() string {
	if o.SharedLibraryPath != "" {
		return o.SharedLibraryPath
	}
	return os.Getenv(LibraryPathEnv)
}

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// Elements returns the number of values Shape describes.
func Elements(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// Validate checks that Data holds exactly the values Shape describes.
func (t Tensor) Validate() error {
	if len(t.Shape) == 0 {
		return errors.New("tensor has no shape")
	}
	for _, d := range t.Shape {
		if d <= 0 {
			return fmt.Errorf("tensor shape %v has a non-positive dimension", t.Shape)
		}
	}
	if n := Elements(t.Shape); n != int64(len(t.Data)) {
		return fmt.Errorf("tensor shape %v needs %d values, got %d", t.Shape, n, len(t.Data))
	}
	return nil
}

// Runner runs a model once per call. Model implements it; tests substitute
// their own.
type Runner interface {
	Run(inputs []Tensor, outputShapes [][]int64) ([]Tensor, error)
}
