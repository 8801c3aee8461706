package metrics

import (
	"math"

	"github.com/stevecastle/dpeval/imageio"
)

// PerfectPSNR is reported for identical images.
const PerfectPSNR = 100

// PSNR returns 10*log10(1/mse) over every pixel and channel, assuming a peak
// value of 1.
func PSNR(target, restored *imageio.Image) (float64, error) {
	var sum float64
	for i, t := range target.Pix {
		d := float64(t) - float64(restored.Pix[i])
		sum += d * d
	}
	mse := sum / float64(len(target.Pix))
	if mse == 0 {
		return PerfectPSNR, nil
	}
	return 10 * math.Log10(1/mse), nil
}

// MAE returns the mean over channels of each channel's mean absolute error.
func MAE(target, restored *imageio.Image) (float64, error) {
	var per [imageio.Channels]float64
	for i, t := range target.Pix {
		per[i%imageio.Channels] += math.Abs(float64(t) - float64(restored.Pix[i]))
	}
	n := float64(target.Width * target.Height)
	var total float64
	for _, s := range per {
		total += s / n
	}
	return total / imageio.Channels, nil
}
