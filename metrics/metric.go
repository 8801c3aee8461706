// Package metrics scores a restored image against its sharp target.
package metrics

import (
	"context"
	"math"

	"github.com/stevecastle/dpeval/imageio"
)

// Metric yields one scalar per (target, restored) pair. Callers clamp the
// restored image to [0,1] before measuring.
type Metric interface {
	Name() string
	Measure(ctx context.Context, target, restored *imageio.Image) (float64, error)
}

// Func adapts a pure function to Metric.
type Func struct {
	Label string
	Fn    func(target, restored *imageio.Image) (float64, error)
}

// Name returns the metric label.
func (f Func) Name() string { return f.Label }

// Measure calls Fn after checking both images share dimensions.
func (f Func) Measure(ctx context.Context, target, restored *imageio.Image) (float64, error) {
	if err := imageio.CheckSameSize(target, restored); err != nil {
		return 0, err
	}
	return f.Fn(target, restored)
}

// Disabled reports NaN for every sample.
type Disabled string

// Name returns the metric label.
func (d Disabled) Name() string { return string(d) }

// Measure returns NaN.
func (Disabled) Measure(context.Context, *imageio.Image, *imageio.Image) (float64, error) {
	return math.NaN(), nil
}

// NewPSNR returns the PSNR metric.
func NewPSNR() Metric { return Func{Label: "PSNR", Fn: PSNR} }

// NewMAE returns the mean absolute error metric.
func NewMAE() Metric { return Func{Label: "MAE", Fn: MAE} }

// NewSSIM returns the structural similarity metric.
func NewSSIM() Metric { return Func{Label: "SSIM", Fn: SSIM} }
