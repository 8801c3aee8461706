package evaluate

import (
	"encoding/json"
	"fmt"
	"io"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/stevecastle/dpeval/dataset"
)

// Scores holds one value per processed sample for each metric, in sample
// order.
type Scores struct {
	PSNR  []float64
	SSIM  []float64
	MAE   []float64
	LPIPS []float64
}

// Add appends the four values of one sample.
func (s *Scores) Add(r Result) {
	s.PSNR = append(s.PSNR, r.PSNR)
	s.SSIM = append(s.SSIM, r.SSIM)
	s.MAE = append(s.MAE, r.MAE)
	s.LPIPS = append(s.LPIPS, r.LPIPS)
}

// Len returns the number of samples scored.
func (s *Scores) Len() int { return len(s.PSNR) }

// Means are the arithmetic means of each metric over one subset. An empty
// subset yields NaN.
type Means struct {
	PSNR  float64
	SSIM  float64
	MAE   float64
	LPIPS float64
}

type meansJSON struct {
	PSNR  *float64 `json:"psnr"`
	SSIM  *float64 `json:"ssim"`
	MAE   *float64 `json:"mae"`
	LPIPS *float64 `json:"lpips"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// MarshalJSON encodes NaN as null.
func (m Means) MarshalJSON() ([]byte, error) {
	return json.Marshal(meansJSON{
		PSNR:  finite(m.PSNR),
		SSIM:  finite(m.SSIM),
		MAE:   finite(m.MAE),
		LPIPS: finite(m.LPIPS),
	})
}

// Summary is the aggregate over all samples and each scene category.
type Summary struct {
	Samples int   `json:"samples"`
	Overall Means `json:"overall"`
	Indoor  Means `json:"indoor"`
	Outdoor Means `json:"outdoor"`
}

// Summarize averages s over all samples and over the two label subsets. The
// partition uses 1-based indices and must cover exactly s.Len() samples.
func Summarize(s *Scores, p dataset.Partition) (Summary, error) {
	n := s.Len()
	if err := p.Validate(n); err != nil {
		return Summary{}, err
	}
	indoor, outdoor := p.ZeroBased()
	return Summary{
		Samples: n,
		Overall: s.means(nil),
		Indoor:  s.means(indoor),
		Outdoor: s.means(outdoor),
	}, nil
}

// means averages the selected indices, or every sample when idx is nil.
func (s *Scores) means(idx []int) Means {
	return Means{
		PSNR:  mean(s.PSNR, idx),
		SSIM:  mean(s.SSIM, idx),
		MAE:   mean(s.MAE, idx),
		LPIPS: mean(s.LPIPS, idx),
	}
}

func mean(values []float64, idx []int) float64 {
	if idx != nil {
		sel := make([]float64, len(idx))
		for i, j := range idx {
			sel[i] = values[j]
		}
		values = sel
	}
	if len(values) == 0 {
		return math.NaN()
	}
	return stat.Mean(values, nil)
}

// Report writes the three summary lines.
func Report(w io.Writer, s Summary) error {
	rows := []struct {
		label string
		m     Means
	}{
		{"Overall:", s.Overall},
		{"Indoor: ", s.Indoor},
		{"Outdoor:", s.Outdoor},
	}
	for _, r := range rows {
		if _, err := fmt.Fprintf(w, "%s PSNR %.4f SSIM %.4f MAE %.4f LPIPS %.4f\n",
			r.label, r.m.PSNR, r.m.SSIM, r.m.MAE, r.m.LPIPS); err != nil {
			return err
		}
	}
	return nil
}
