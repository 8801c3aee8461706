package imageio

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	_ "golang.org/x/image/tiff"

	"github.com/stevecastle/dpeval/log"
)

// Options controls how source rasters are turned into normalized images.
type Options struct {
	// ResizePct scales both dimensions by this percentage before
	// normalization. Zero disables resizing.
	ResizePct int
	// Interpolation names the resampling filter, see Resize.
	Interpolation string
}

// Load reads and normalizes the image at path.
func Load(path string, opts Options) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, err := Decode(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return img, nil
}

// Decode reads a raster from r, resizes it when requested and normalizes it.
func Decode(r io.Reader, opts Options) (*Image, error) {
	src, format, err := image.Decode(r)
	if err != nil {
		return nil, err
	}
	if !is16Bit(src) {
		log.Warnf("decoded %s raster of type %T is not 16-bit; samples are widened", format, src)
	}
	if opts.ResizePct > 0 {
		src, err = Resize(src, opts.ResizePct, opts.Interpolation)
		if err != nil {
			return nil, err
		}
	}
	return Normalize(src), nil
}

func is16Bit(img image.Image) bool {
	switch img.(type) {
	case *image.RGBA64, *image.NRGBA64, *image.Gray16:
		return true
	}
	return false
}

// Normalize converts a raster into an Image by dividing 16-bit samples by
// MaxValue. Alpha is discarded.
func Normalize(src image.Image) *Image {
	b := src.Bounds()
	out := New(b.Dx(), b.Dy())

	switch s := src.(type) {
	case *image.RGBA64:
		for y := 0; y < out.Height; y++ {
			row := s.Pix[(y+b.Min.Y-s.Rect.Min.Y)*s.Stride+(b.Min.X-s.Rect.Min.X)*8:]
			o := y * out.Width * Channels
			for x := 0; x < out.Width; x++ {
				p := row[x*8:]
				out.Pix[o+0] = float32(uint16(p[0])<<8|uint16(p[1])) / MaxValue
				out.Pix[o+1] = float32(uint16(p[2])<<8|uint16(p[3])) / MaxValue
				out.Pix[o+2] = float32(uint16(p[4])<<8|uint16(p[5])) / MaxValue
				o += Channels
			}
		}
	case *image.NRGBA64:
		for y := 0; y < out.Height; y++ {
			row := s.Pix[(y+b.Min.Y-s.Rect.Min.Y)*s.Stride+(b.Min.X-s.Rect.Min.X)*8:]
			o := y * out.Width * Channels
			for x := 0; x < out.Width; x++ {
				p := row[x*8:]
				out.Pix[o+0] = float32(uint16(p[0])<<8|uint16(p[1])) / MaxValue
				out.Pix[o+1] = float32(uint16(p[2])<<8|uint16(p[3])) / MaxValue
				out.Pix[o+2] = float32(uint16(p[4])<<8|uint16(p[5])) / MaxValue
				o += Channels
			}
		}
	default:
		o := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.NRGBA64Model.Convert(src.At(x, y)).(color.NRGBA64)
				out.Pix[o+0] = float32(c.R) / MaxValue
				out.Pix[o+1] = float32(c.G) / MaxValue
				out.Pix[o+2] = float32(c.B) / MaxValue
				o += Channels
			}
		}
	}
	return out
}

// Quantize rescales m to the 16-bit domain: multiply by MaxValue in float32,
// round half to even, cast. Samples are clamped to [0,1] first and NaN
// becomes 0.
func Quantize(m *Image) *image.NRGBA64 {
	dst := image.NewNRGBA64(image.Rect(0, 0, m.Width, m.Height))
	for y := 0; y < m.Height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < m.Width; x++ {
			p := row[x*8:]
			for c := 0; c < Channels; c++ {
				v := to16(m.At(x, y, c))
				p[c*2] = uint8(v >> 8)
				p[c*2+1] = uint8(v)
			}
			p[6] = 0xff
			p[7] = 0xff
		}
	}
	return dst
}

func to16(v float32) uint16 {
	switch {
	case v <= 0 || math.IsNaN(float64(v)):
		return 0
	case v >= 1:
		return MaxValue
	}
	// the product is rounded to float32 before the half-even step
	p := v * MaxValue
	return uint16(math.RoundToEven(float64(p)))
}

// EncodePNG writes m as a 16-bit PNG.
func EncodePNG(w io.Writer, m *Image) error {
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	return enc.Encode(w, Quantize(m))
}

// PNGBytes returns the 16-bit PNG encoding of m.
func PNGBytes(m *Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodePNG(&buf, m); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Save writes m as a 16-bit PNG at path.
func Save(path string, m *Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := EncodePNG(f, m); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
