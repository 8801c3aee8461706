package metrics

import (
	"context"
	"fmt"

	"github.com/stevecastle/dpeval/imageio"
	"github.com/stevecastle/dpeval/ortsession"
	"github.com/stevecastle/dpeval/restore"
)

// LPIPS runs an exported LPIPS network. The graph takes two [1,3,H,W]
// tensors scaled to [-1,1] and returns the distance as a single value.
type LPIPS struct {
	model ortsession.Runner
	close func() error
}

// NewLPIPS wraps an already opened runner.
func NewLPIPS(model ortsession.Runner) *LPIPS {
	return &LPIPS{model: model}
}

// OpenLPIPS loads the LPIPS graph at path from rt.
func OpenLPIPS(rt *ortsession.Runtime, path string, inputs [2]string, output string) (*LPIPS, error) {
	m, err := rt.Open(path, inputs[:], []string{output})
	if err != nil {
		return nil, err
	}
	return &LPIPS{model: m, close: m.Close}, nil
}

// Close releases the underlying session when OpenLPIPS created it.
func (l *LPIPS) Close() error {
	if l.close == nil {
		return nil
	}
	return l.close()
}

// Name returns "LPIPS".
func (l *LPIPS) Name() string { return "LPIPS" }

// Measure returns the perceptual distance between target and restored.
func (l *LPIPS) Measure(ctx context.Context, target, restored *imageio.Image) (float64, error) {
	if err := imageio.CheckSameSize(target, restored); err != nil {
		return 0, err
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	in0 := signed(restore.ToNCHW(target))
	in1 := signed(restore.ToNCHW(restored))
	outs, err := l.model.Run([]ortsession.Tensor{in0, in1}, [][]int64{{1, 1, 1, 1}})
	if err != nil {
		return 0, fmt.Errorf("lpips model: %w", err)
	}
	if len(outs) == 0 || len(outs[0].Data) != 1 {
		return 0, fmt.Errorf("lpips model returned %d outputs, want one scalar", len(outs))
	}
	return float64(outs[0].Data[0]), nil
}

// signed maps [0,1] to [-1,1] in place.
func signed(t ortsession.Tensor) ortsession.Tensor {
	for i, v := range t.Data {
		t.Data[i] = 2*v - 1
	}
	return t
}
