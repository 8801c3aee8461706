//go:build !cgo
// +build !cgo

package ortsession

// Runtime is unavailable without CGO.
type Runtime struct{}

// Init returns ErrCGORequired.
func Init(opts Options) (*Runtime, error) {
	return nil, ErrCGORequired
}

// Close is a no-op in non-CGO builds.
func (r *Runtime) Close() error { return nil }

// Model is unavailable without CGO.
type Model struct{}

// Open returns ErrCGORequired.
func (r *Runtime) Open(path string, inputs, outputs []string) (*Model, error) {
	return nil, ErrCGORequired
}

// Run returns ErrCGORequired.
func (m *Model) Run(inputs []Tensor, outputShapes [][]int64) ([]Tensor, error) {
	return nil, ErrCGORequired
}

// Close is a no-op in non-CGO builds.
func (m *Model) Close() error { return nil }
