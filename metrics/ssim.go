package metrics

import (
	"fmt"

	"github.com/stevecastle/dpeval/imageio"
)

const (
	ssimWindow = 7
	ssimK1     = 0.01
	ssimK2     = 0.03
	// data range of normalized images
	ssimRange = 1.0
)

// SSIM returns the mean structural similarity over channels, using a 7x7
// uniform window with sample covariance. Only windows fully inside the image
// contribute, so a border of 3 pixels is excluded.
func SSIM(target, restored *imageio.Image) (float64, error) {
	w, h := target.Width, target.Height
	if w < ssimWindow || h < ssimWindow {
		return 0, fmt.Errorf("ssim needs at least %dx%d pixels, got %dx%d", ssimWindow, ssimWindow, w, h)
	}
	var total float64
	for c := 0; c < imageio.Channels; c++ {
		total += ssimChannel(target, restored, c)
	}
	return total / imageio.Channels, nil
}

func ssimChannel(a, b *imageio.Image, c int) float64 {
	w, h := a.Width, a.Height
	sx := newIntegral(w, h)
	sy := newIntegral(w, h)
	sxx := newIntegral(w, h)
	syy := newIntegral(w, h)
	sxy := newIntegral(w, h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			u := float64(a.At(x, y, c))
			v := float64(b.At(x, y, c))
			sx.add(x, y, u)
			sy.add(x, y, v)
			sxx.add(x, y, u*u)
			syy.add(x, y, v*v)
			sxy.add(x, y, u*v)
		}
	}

	const np = ssimWindow * ssimWindow
	const covNorm = float64(np) / float64(np-1)
	c1 := (ssimK1 * ssimRange) * (ssimK1 * ssimRange)
	c2 := (ssimK2 * ssimRange) * (ssimK2 * ssimRange)

	var sum float64
	for y := 0; y+ssimWindow <= h; y++ {
		for x := 0; x+ssimWindow <= w; x++ {
			ux := sx.box(x, y, ssimWindow) / np
			uy := sy.box(x, y, ssimWindow) / np
			uxx := sxx.box(x, y, ssimWindow) / np
			uyy := syy.box(x, y, ssimWindow) / np
			uxy := sxy.box(x, y, ssimWindow) / np
			vx := covNorm * (uxx - ux*ux)
			vy := covNorm * (uyy - uy*uy)
			vxy := covNorm * (uxy - ux*uy)

			num := (2*ux*uy + c1) * (2*vxy + c2)
			den := (ux*ux + uy*uy + c1) * (vx + vy + c2)
			sum += num / den
		}
	}
	n := (w - ssimWindow + 1) * (h - ssimWindow + 1)
	return sum / float64(n)
}

// integral is a summed-area table with a zero first row and column.
type integral struct {
	stride int
	v      []float64
}

func newIntegral(w, h int) *integral {
	return &integral{stride: w + 1, v: make([]float64, (w+1)*(h+1))}
}

// add must be called in row-major order.
func (s *integral) add(x, y int, val float64) {
	i := (y+1)*s.stride + x + 1
	s.v[i] = val + s.v[i-1] + s.v[i-s.stride] - s.v[i-s.stride-1]
}

// box sums the n x n block whose top-left corner is (x, y).
func (s *integral) box(x, y, n int) float64 {
	top := y * s.stride
	bot := (y + n) * s.stride
	return s.v[bot+x+n] - s.v[bot+x] - s.v[top+x+n] + s.v[top+x]
}
