//go:build cgo
// +build cgo

package ortsession

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

// Runtime is an initialized ONNX Runtime environment. Create one per process
// and Close it on exit.
type Runtime struct {
	options *ort.SessionOptions
}

// Init loads the shared library and initializes the environment.
func Init(opts Options) (*Runtime, error) {
	if p := opts.libraryPath(); p != "" {
		ort.SetSharedLibraryPath(p)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}

	so, err := ort.NewSessionOptions()
	if err != nil {
		ort.DestroyEnvironment()
		return nil, err
	}
	if opts.IntraOpThreads > 0 {
		if err := so.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			so.Destroy()
			ort.DestroyEnvironment()
			return nil, err
		}
	}
	if opts.UseCUDA {
		cuda, err := ort.NewCUDAProviderOptions()
		if err != nil {
			so.Destroy()
			ort.DestroyEnvironment()
			return nil, fmt.Errorf("cuda provider options: %w", err)
		}
		err = so.AppendExecutionProviderCUDA(cuda)
		cuda.Destroy()
		if err != nil {
			so.Destroy()
			ort.DestroyEnvironment()
			return nil, fmt.Errorf("enable cuda: %w", err)
		}
	}
	return &Runtime{options: so}, nil
}

// Close releases the session options and tears the environment down.
func (r *Runtime) Close() error {
	if r.options != nil {
		r.options.Destroy()
		r.options = nil
	}
	return ort.DestroyEnvironment()
}

// Model is a loaded ONNX graph with fixed input and output names.
type Model struct {
	session *ort.DynamicAdvancedSession
	inputs  []string
	outputs []string
}

// Open loads the model at path.
func (r *Runtime) Open(path string, inputs, outputs []string) (*Model, error) {
	session, err := ort.NewDynamicAdvancedSession(path, inputs, outputs, r.options)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", path, err)
	}
	return &Model{session: session, inputs: inputs, outputs: outputs}, nil
}

// Run feeds inputs in the order given to Open and returns one tensor per
// output name, sized by outputShapes.
func (m *Model) Run(inputs []Tensor, outputShapes [][]int64) ([]Tensor, error) {
	if len(inputs) != len(m.inputs) {
		return nil, fmt.Errorf("model expects %d inputs, got %d", len(m.inputs), len(inputs))
	}
	if len(outputShapes) != len(m.outputs) {
		return nil, fmt.Errorf("model produces %d outputs, got %d shapes", len(m.outputs), len(outputShapes))
	}

	ins := make([]ort.Value, 0, len(inputs))
	defer func() {
		for _, v := range ins {
			v.Destroy()
		}
	}()
	for i, t := range inputs {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("input %s: %w", m.inputs[i], err)
		}
		v, err := ort.NewTensor(ort.NewShape(t.Shape...), t.Data)
		if err != nil {
			return nil, err
		}
		ins = append(ins, v)
	}

	outs := make([]*ort.Tensor[float32], 0, len(outputShapes))
	defer func() {
		for _, v := range outs {
			v.Destroy()
		}
	}()
	outValues := make([]ort.Value, 0, len(outputShapes))
	for _, shape := range outputShapes {
		v, err := ort.NewEmptyTensor[float32](ort.NewShape(shape...))
		if err != nil {
			return nil, err
		}
		outs = append(outs, v)
		outValues = append(outValues, v)
	}

	if err := m.session.Run(ins, outValues); err != nil {
		return nil, err
	}

	result := make([]Tensor, len(outs))
	for i, v := range outs {
		data := v.GetData()
		cp := make([]float32, len(data))
		copy(cp, data)
		result[i] = Tensor{Shape: append([]int64(nil), outputShapes[i]...), Data: cp}
	}
	return result, nil
}

// Close destroys the session.
func (m *Model) Close() error {
	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
