// Package evaluate runs the restoration model over every sample, scores the
// output and aggregates the scores per scene category.
package evaluate

import (
	"errors"

	"github.com/stevecastle/dpeval/metrics"
	"github.com/stevecastle/dpeval/restore"
)

// Context carries the model and the four metric handles. All are created
// once before the loop and only read during it.
type Context struct {
	Model restore.Restorer
	PSNR  metrics.Metric
	SSIM  metrics.Metric
	MAE   metrics.Metric
	LPIPS metrics.Metric
}

// NewContext pairs model and lpips with the built-in pixel metrics.
func NewContext(model restore.Restorer, lpips metrics.Metric) Context {
	return Context{
		Model: model,
		PSNR:  metrics.NewPSNR(),
		SSIM:  metrics.NewSSIM(),
		MAE:   metrics.NewMAE(),
		LPIPS: lpips,
	}
}

func (c Context) validate() error {
	if c.Model == nil {
		return errors.New("evaluate: no restoration model")
	}
	if c.PSNR == nil || c.SSIM == nil || c.MAE == nil || c.LPIPS == nil {
		return errors.New("evaluate: all four metrics must be set")
	}
	return nil
}
