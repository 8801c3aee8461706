package dataset

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/sbinet/npyio"
)

// Category names used in reports and stored results.
const (
	Indoor  = "indoor"
	Outdoor = "outdoor"
)

var (
	// ErrLabelOutOfRange is returned for a label index outside [1, N].
	ErrLabelOutOfRange = errors.New("label index out of range")
	// ErrLabelOverlap is returned when an index is listed more than once.
	ErrLabelOverlap = errors.New("label index listed more than once")
	// ErrLabelMissing is returned when a sample belongs to neither partition.
	ErrLabelMissing = errors.New("sample not covered by any label")
)

// Partition holds the 1-based indoor and outdoor sample indices.
type Partition struct {
	Indoor  []int
	Outdoor []int
}

// LoadPartition reads both label files.
func LoadPartition(indoorPath, outdoorPath string) (Partition, error) {
	indoor, err := LoadLabels(indoorPath)
	if err != nil {
		return Partition{}, fmt.Errorf("indoor labels: %w", err)
	}
	outdoor, err := LoadLabels(outdoorPath)
	if err != nil {
		return Partition{}, fmt.Errorf("outdoor labels: %w", err)
	}
	return Partition{Indoor: indoor, Outdoor: outdoor}, nil
}

// Validate checks that every index lies in [1, n] and that together the two
// lists name each sample exactly once.
func (p Partition) Validate(n int) error {
	seen := make([]bool, n)
	check := func(name string, idx []int) error {
		for _, i := range idx {
			if i < 1 || i > n {
				return fmt.Errorf("%w: %s index %d not in [1, %d]", ErrLabelOutOfRange, name, i, n)
			}
			if seen[i-1] {
				return fmt.Errorf("%w: %s index %d", ErrLabelOverlap, name, i)
			}
			seen[i-1] = true
		}
		return nil
	}
	if err := check(Indoor, p.Indoor); err != nil {
		return err
	}
	if err := check(Outdoor, p.Outdoor); err != nil {
		return err
	}
	for i, ok := range seen {
		if !ok {
			return fmt.Errorf("%w: sample %d", ErrLabelMissing, i+1)
		}
	}
	return nil
}

// ZeroBased returns copies of both lists shifted to 0-based indices.
func (p Partition) ZeroBased() (indoor, outdoor []int) {
	shift := func(idx []int) []int {
		out := make([]int, len(idx))
		for i, v := range idx {
			out[i] = v - 1
		}
		return out
	}
	return shift(p.Indoor), shift(p.Outdoor)
}

// Categories maps each 0-based sample index to its category name.
func (p Partition) Categories(n int) []string {
	cats := make([]string, n)
	for _, i := range p.Indoor {
		if i >= 1 && i <= n {
			cats[i-1] = Indoor
		}
	}
	for _, i := range p.Outdoor {
		if i >= 1 && i <= n {
			cats[i-1] = Outdoor
		}
	}
	return cats
}

// LoadLabels reads a list of integer indices. Files ending in .npy are
// parsed as NumPy arrays of any integer (or integral float) dtype; anything
// else is read as integers separated by whitespace or commas.
func LoadLabels(path string) ([]int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".npy") {
		return readNpy(f)
	}
	return readText(f)
}

func readNpy(r io.Reader) ([]int, error) {
	npy, err := npyio.NewReader(r)
	if err != nil {
		return nil, err
	}
	dtype := strings.TrimLeft(npy.Header.Descr.Type, "<>|=")
	switch dtype {
	case "i1":
		return readInts[int8](npy)
	case "i2":
		return readInts[int16](npy)
	case "i4":
		return readInts[int32](npy)
	case "i8":
		return readInts[int64](npy)
	case "u1":
		return readInts[uint8](npy)
	case "u2":
		return readInts[uint16](npy)
	case "u4":
		return readInts[uint32](npy)
	case "u8":
		return readInts[uint64](npy)
	case "f4":
		return readFloats[float32](npy)
	case "f8":
		return readFloats[float64](npy)
	}
	return nil, fmt.Errorf("unsupported label dtype %q", npy.Header.Descr.Type)
}

type integer interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64
}

func readInts[T integer](npy *npyio.Reader) ([]int, error) {
	var v []T
	if err := npy.Read(&v); err != nil {
		return nil, err
	}
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out, nil
}

func readFloats[T float32 | float64](npy *npyio.Reader) ([]int, error) {
	var v []T
	if err := npy.Read(&v); err != nil {
		return nil, err
	}
	out := make([]int, len(v))
	for i, x := range v {
		f := float64(x)
		if f != math.Trunc(f) {
			return nil, fmt.Errorf("label %v at position %d is not an integer", f, i)
		}
		out[i] = int(f)
	}
	return out, nil
}

func readText(r io.Reader) ([]int, error) {
	var out []int
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '[' || r == ']'
		})
		for _, field := range fields {
			v, err := strconv.Atoi(field)
			if err != nil {
				return nil, fmt.Errorf("invalid label %q: %w", field, err)
			}
			out = append(out, v)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
