// Package restore turns a dual-pixel left/right pair into a single sharp
// estimate.
package restore

import (
	"context"
	"fmt"

	"github.com/stevecastle/dpeval/imageio"
	"github.com/stevecastle/dpeval/ortsession"
)

// Restorer produces a 3-channel estimate of the all-in-focus image from the
// two dual-pixel views. Output values are not guaranteed to lie in [0,1].
type Restorer interface {
	Restore(ctx context.Context, left, right *imageio.Image) (*imageio.Image, error)
}

// InputChannels is the channel count of the packed model input.
const InputChannels = 2 * imageio.Channels

// ONNX runs an exported restoration network. The graph takes one [1,6,H,W]
// tensor and returns one [1,3,H,W] tensor.
type ONNX struct {
	model ortsession.Runner
	close func() error
}

// NewONNX wraps an already opened runner.
func NewONNX(model ortsession.Runner) *ONNX {
	return &ONNX{model: model}
}

// Open loads the restoration graph at path from rt.
func Open(rt *ortsession.Runtime, path, input, output string) (*ONNX, error) {
	m, err := rt.Open(path, []string{input}, []string{output})
	if err != nil {
		return nil, err
	}
	return &ONNX{model: m, close: m.Close}, nil
}

// Close releases the underlying session when Open created it.
func (r *ONNX) Close() error {
	if r.close == nil {
		return nil
	}
	return r.close()
}

// Restore runs one forward pass with batch size 1.
func (r *ONNX) Restore(ctx context.Context, left, right *imageio.Image) (*imageio.Image, error) {
	if err := imageio.CheckSameSize(left, right); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	in := PackPair(left, right)
	outShape := []int64{1, imageio.Channels, int64(left.Height), int64(left.Width)}
	outs, err := r.model.Run([]ortsession.Tensor{in}, [][]int64{outShape})
	if err != nil {
		return nil, fmt.Errorf("restoration model: %w", err)
	}
	return FromNCHW(outs[0], left.Width, left.Height)
}

// PackPair concatenates left and right along the channel axis into a
// [1,6,H,W] NCHW tensor. Channels 0-2 are left RGB, 3-5 right RGB.
func PackPair(left, right *imageio.Image) ortsession.Tensor {
	w, h := left.Width, left.Height
	plane := w * h
	data := make([]float32, InputChannels*plane)
	for i := 0; i < plane; i++ {
		for c := 0; c < imageio.Channels; c++ {
			data[c*plane+i] = left.Pix[i*imageio.Channels+c]
			data[(c+imageio.Channels)*plane+i] = right.Pix[i*imageio.Channels+c]
		}
	}
	return ortsession.Tensor{
		Shape: []int64{1, InputChannels, int64(h), int64(w)},
		Data:  data,
	}
}

// ToNCHW lays an image out as a [1,3,H,W] tensor.
func ToNCHW(m *imageio.Image) ortsession.Tensor {
	plane := m.Width * m.Height
	data := make([]float32, imageio.Channels*plane)
	for i := 0; i < plane; i++ {
		for c := 0; c < imageio.Channels; c++ {
			data[c*plane+i] = m.Pix[i*imageio.Channels+c]
		}
	}
	return ortsession.Tensor{
		Shape: []int64{1, imageio.Channels, int64(m.Height), int64(m.Width)},
		Data:  data,
	}
}

// FromNCHW converts a [1,3,H,W] tensor back into an HWC image.
func FromNCHW(t ortsession.Tensor, width, height int) (*imageio.Image, error) {
	want := []int64{1, imageio.Channels, int64(height), int64(width)}
	if len(t.Shape) != len(want) {
		return nil, fmt.Errorf("model output shape %v, want %v", t.Shape, want)
	}
	for i := range want {
		if t.Shape[i] != want[i] {
			return nil, fmt.Errorf("model output shape %v, want %v", t.Shape, want)
		}
	}
	plane := width * height
	if len(t.Data) != imageio.Channels*plane {
		return nil, fmt.Errorf("model output has %d values, want %d", len(t.Data), imageio.Channels*plane)
	}
	out := imageio.New(width, height)
	for i := 0; i < plane; i++ {
		for c := 0; c < imageio.Channels; c++ {
			out.Pix[i*imageio.Channels+c] = t.Data[c*plane+i]
		}
	}
	return out, nil
}

// Mean averages the two views, which approximates the conventional
// (non dual-pixel) capture of the same scene.
type Mean struct{}

// Restore returns (left+right)/2.
func (Mean) Restore(ctx context.Context, left, right *imageio.Image) (*imageio.Image, error) {
	if err := imageio.CheckSameSize(left, right); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := imageio.New(left.Width, left.Height)
	for i := range out.Pix {
		out.Pix[i] = (left.Pix[i] + right.Pix[i]) / 2
	}
	return out, nil
}
