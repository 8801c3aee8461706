// Package imageio converts between 16-bit raster files and the normalized
// float32 images the evaluator feeds to the restoration model and metrics.
package imageio

import (
	"errors"
	"fmt"
	"math"
)

// MaxValue is the full-scale value of a 16-bit sample.
const MaxValue = 65535

// Channels is the number of colour channels carried by an Image.
const Channels = 3

// ErrShapeMismatch is returned when two images that must share spatial
// dimensions do not.
var ErrShapeMismatch = errors.New("image dimensions differ")

// Image is a 3-channel raster stored height-major, width, then channel
// (HWC, RGB). Values are normalized so that 1.0 is full scale.
type Image struct {
	Width  int
	Height int
	Pix    []float32
}

// New allocates a zeroed image.
func New(width, height int) *Image {
	return &Image{
		Width:  width,
		Height: height,
		Pix:    make([]float32, width*height*Channels),
	}
}

// At returns channel c of pixel (x, y).
func (m *Image) At(x, y, c int) float32 {
	return m.Pix[(y*m.Width+x)*Channels+c]
}

// Set stores v into channel c of pixel (x, y).
func (m *Image) Set(x, y, c int, v float32) {
	m.Pix[(y*m.Width+x)*Channels+c] = v
}

// Clone returns a deep copy.
func (m *Image) Clone() *Image {
	out := &Image{Width: m.Width, Height: m.Height, Pix: make([]float32, len(m.Pix))}
	copy(out.Pix, m.Pix)
	return out
}

// Clamp limits every sample to [0,1] in place and returns m. NaN samples
// are left as NaN.
func (m *Image) Clamp() *Image {
	for i, v := range m.Pix {
		switch {
		case v < 0:
			m.Pix[i] = 0
		case v > 1:
			m.Pix[i] = 1
		}
	}
	return m
}

// CountNaN returns the number of NaN samples.
func (m *Image) CountNaN() int {
	n := 0
	for _, v := range m.Pix {
		if math.IsNaN(float64(v)) {
			n++
		}
	}
	return n
}

// Range returns the smallest and largest sample.
func (m *Image) Range() (lo, hi float32) {
	if len(m.Pix) == 0 {
		return 0, 0
	}
	lo, hi = m.Pix[0], m.Pix[0]
	for _, v := range m.Pix[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// SameSize reports whether m and o share spatial dimensions.
func (m *Image) SameSize(o *Image) bool {
	return m.Width == o.Width && m.Height == o.Height
}

// CheckSameSize returns ErrShapeMismatch wrapped with both sizes when the
// images differ.
func CheckSameSize(a, b *Image) error {
	if a.SameSize(b) {
		return nil
	}
	return fmt.Errorf("%w: %dx%d vs %dx%d", ErrShapeMismatch, a.Width, a.Height, b.Width, b.Height)
}
