package imageio

import (
	"fmt"
	"image"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

// ScaledSize returns the dimensions of a w x h raster scaled by pct percent,
// truncating toward zero and never below one pixel.
func ScaledSize(w, h, pct int) (int, int) {
	nw := w * pct / 100
	nh := h * pct / 100
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

// Resize scales src by pct percent. Supported filters are "bilinear"
// (default), "bicubic", "lanczos", "nearest", "mitchell", "catmullrom" and
// "approx-bilinear". 16-bit inputs stay 16-bit.
func Resize(src image.Image, pct int, interpolation string) (image.Image, error) {
	if pct <= 0 {
		return nil, fmt.Errorf("resize percentage must be positive, got %d", pct)
	}
	b := src.Bounds()
	nw, nh := ScaledSize(b.Dx(), b.Dy(), pct)

	name := strings.ToLower(strings.TrimSpace(interpolation))
	if filter, ok := resizeFilter(name); ok {
		return resize.Resize(uint(nw), uint(nh), src, filter), nil
	}
	scaler, ok := drawScaler(name)
	if !ok {
		return nil, fmt.Errorf("unknown interpolation %q", interpolation)
	}
	dst := image.NewRGBA64(image.Rect(0, 0, nw, nh))
	scaler.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst, nil
}

// Interpolations lists the accepted interpolation names.
var Interpolations = []string{"bilinear", "bicubic", "lanczos", "nearest", "mitchell", "catmullrom", "approx-bilinear"}

// CheckInterpolation reports an error for an unknown interpolation name.
func CheckInterpolation(name string) error {
	name = strings.ToLower(strings.TrimSpace(name))
	if _, ok := resizeFilter(name); ok {
		return nil
	}
	if _, ok := drawScaler(name); ok {
		return nil
	}
	return fmt.Errorf("unknown interpolation %q (want one of %s)", name, strings.Join(Interpolations, ", "))
}

func resizeFilter(name string) (resize.InterpolationFunction, bool) {
	switch name {
	case "", "bilinear":
		return resize.Bilinear, true
	case "bicubic":
		return resize.Bicubic, true
	case "lanczos":
		return resize.Lanczos3, true
	case "nearest":
		return resize.NearestNeighbor, true
	case "mitchell":
		return resize.MitchellNetravali, true
	}
	return 0, false
}

func drawScaler(name string) (draw.Scaler, bool) {
	switch name {
	case "catmullrom":
		return draw.CatmullRom, true
	case "approx-bilinear":
		return draw.ApproxBiLinear, true
	}
	return nil, false
}
