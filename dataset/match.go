// Package dataset enumerates dual-pixel evaluation samples and the
// indoor/outdoor partition used for reporting.
package dataset

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/facette/natsort"
)

// Subdirectories of the dataset root holding the three views.
var (
	LeftDir   = filepath.Join("test_l", "source")
	RightDir  = filepath.Join("test_r", "source")
	TargetDir = filepath.Join("test_c", "target")
)

// Pattern is the file pattern matched inside each view directory.
const Pattern = "*.png"

var (
	// ErrCountMismatch is returned when the three view directories hold a
	// different number of files.
	ErrCountMismatch = errors.New("left, right and target counts differ")
	// ErrNoSamples is returned when no target images are found.
	ErrNoSamples = errors.New("no samples found")
)

// Sample is one scene: the left and right dual-pixel views and the sharp
// target. Index is the 0-based position in sorted order.
type Sample struct {
	Index  int
	Left   string
	Right  string
	Target string
}

// Name is the target's base filename, used for saved outputs.
func (s Sample) Name() string {
	return filepath.Base(s.Target)
}

// List returns the files matching Pattern in dir, natural-sorted.
func List(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, Pattern))
	if err != nil {
		return nil, err
	}
	natsort.Sort(files)
	return files, nil
}

// Match enumerates the samples under root. Files are paired by position
// after natural sorting; names are not compared.
func Match(root string) ([]Sample, error) {
	left, err := List(filepath.Join(root, LeftDir))
	if err != nil {
		return nil, err
	}
	right, err := List(filepath.Join(root, RightDir))
	if err != nil {
		return nil, err
	}
	target, err := List(filepath.Join(root, TargetDir))
	if err != nil {
		return nil, err
	}
	return Zip(left, right, target)
}

// Zip pairs three equally long path lists positionally.
func Zip(left, right, target []string) ([]Sample, error) {
	if len(left) != len(target) || len(right) != len(target) {
		return nil, fmt.Errorf("%w: left=%d right=%d target=%d", ErrCountMismatch, len(left), len(right), len(target))
	}
	if len(target) == 0 {
		return nil, ErrNoSamples
	}
	samples := make([]Sample, len(target))
	for i := range target {
		samples[i] = Sample{Index: i, Left: left[i], Right: right[i], Target: target[i]}
	}
	return samples, nil
}
