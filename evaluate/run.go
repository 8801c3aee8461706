package evaluate

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/schollz/progressbar/v3"

	"github.com/stevecastle/dpeval/dataset"
	"github.com/stevecastle/dpeval/imageio"
	"github.com/stevecastle/dpeval/log"
	"github.com/stevecastle/dpeval/metrics"
)

// Result is the outcome of one sample.
type Result struct {
	Sample dataset.Sample
	PSNR   float64
	SSIM   float64
	MAE    float64
	LPIPS  float64
	// Output is the path of the saved restoration, empty when not saved.
	Output string
}

// Recorder receives every result as soon as it is computed.
type Recorder interface {
	Record(ctx context.Context, r Result) error
}

// Publisher receives the encoded restoration of every sample.
type Publisher interface {
	Publish(ctx context.Context, name string, png []byte) error
}

// Options controls the evaluation loop.
type Options struct {
	Image imageio.Options
	// SaveImages writes each restoration as a 16-bit PNG into ResultDir,
	// named after the target file.
	SaveImages bool
	ResultDir  string
	// Progress receives a progress bar; nil disables it.
	Progress  io.Writer
	Recorder  Recorder
	Publisher Publisher
}

// Run evaluates every sample in order and returns the accumulated scores.
// The first error aborts the run. ctx is checked between samples.
func Run(ctx context.Context, ec Context, samples []dataset.Sample, opts Options) (*Scores, error) {
	if err := ec.validate(); err != nil {
		return nil, err
	}
	if len(samples) == 0 {
		return nil, dataset.ErrNoSamples
	}
	if opts.SaveImages {
		if err := os.MkdirAll(opts.ResultDir, 0755); err != nil {
			return nil, fmt.Errorf("create result dir: %w", err)
		}
	}

	var bar *progressbar.ProgressBar
	if opts.Progress != nil {
		bar = newBar(opts.Progress, len(samples))
	}

	scores := &Scores{}
	for _, s := range samples {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r, err := evaluateSample(ctx, ec, s, opts)
		if err != nil {
			return nil, fmt.Errorf("sample %d (%s): %w", s.Index+1, s.Name(), err)
		}
		scores.Add(r)
		if opts.Recorder != nil {
			if err := opts.Recorder.Record(ctx, r); err != nil {
				return nil, fmt.Errorf("record sample %d: %w", s.Index+1, err)
			}
		}
		log.Debugf("%s: PSNR %.4f SSIM %.4f MAE %.4f LPIPS %.4f", s.Name(), r.PSNR, r.SSIM, r.MAE, r.LPIPS)
		if bar != nil {
			_ = bar.Add(1)
		}
	}
	return scores, nil
}

func newBar(w io.Writer, n int) *progressbar.ProgressBar {
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetWidth(15),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("Evaluating"),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}))
}

func evaluateSample(ctx context.Context, ec Context, s dataset.Sample, opts Options) (Result, error) {
	left, err := imageio.Load(s.Left, opts.Image)
	if err != nil {
		return Result{}, err
	}
	right, err := imageio.Load(s.Right, opts.Image)
	if err != nil {
		return Result{}, err
	}
	target, err := imageio.Load(s.Target, opts.Image)
	if err != nil {
		return Result{}, err
	}
	if err := imageio.CheckSameSize(target, left); err != nil {
		return Result{}, fmt.Errorf("target vs left view: %w", err)
	}

	restored, err := ec.Model.Restore(ctx, left, right)
	if err != nil {
		return Result{}, err
	}
	if err := imageio.CheckSameSize(target, restored); err != nil {
		return Result{}, fmt.Errorf("restored vs target: %w", err)
	}
	restored.Clamp()
	if n := restored.CountNaN(); n > 0 {
		log.Warnf("%s: restoration has %d NaN samples", s.Name(), n)
	}

	r := Result{Sample: s}
	for _, m := range []struct {
		metric metrics.Metric
		dst    *float64
	}{
		{ec.PSNR, &r.PSNR},
		{ec.SSIM, &r.SSIM},
		{ec.MAE, &r.MAE},
		{ec.LPIPS, &r.LPIPS},
	} {
		v, err := m.metric.Measure(ctx, target, restored)
		if err != nil {
			return Result{}, fmt.Errorf("%s: %w", m.metric.Name(), err)
		}
		*m.dst = v
	}

	if opts.SaveImages || opts.Publisher != nil {
		png, err := imageio.PNGBytes(restored)
		if err != nil {
			return Result{}, fmt.Errorf("encode restoration: %w", err)
		}
		if opts.SaveImages {
			r.Output = filepath.Join(opts.ResultDir, s.Name())
			if err := os.WriteFile(r.Output, png, 0644); err != nil {
				return Result{}, err
			}
		}
		if opts.Publisher != nil {
			if err := opts.Publisher.Publish(ctx, s.Name(), png); err != nil {
				return Result{}, fmt.Errorf("publish: %w", err)
			}
		}
	}
	return r, nil
}
