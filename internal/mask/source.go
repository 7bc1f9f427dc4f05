package mask

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidMaskFormat is returned when a mask source cannot be turned into a grid.
// Callers treat it as "no mask available", not as a fatal error.
var ErrInvalidMaskFormat = errors.New("invalid mask format")

// maxPixels bounds width*height so every buffer size, at 4 bytes per pixel, fits in an int.
const maxPixels = math.MaxInt / 4

// validDimensions reports whether width x height is positive and addressable.
func validDimensions(width, height int) bool {
	return width > 0 && height > 0 && width <= maxPixels/height
}

// Default foreground thresholds for each encoding.
const (
	DefaultLabelThreshold       int32   = 1
	DefaultAlphaThreshold       uint8   = 20
	DefaultProbabilityThreshold float32 = 0.1
)

// Thresholds decide which values count as foreground for each encoding.
type Thresholds struct {
	Label       int32   // label >= Label
	Alpha       uint8   // alpha > Alpha
	Probability float32 // p > Probability
}

// DefaultThresholds returns the thresholds used by Normalize.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Label:       DefaultLabelThreshold,
		Alpha:       DefaultAlphaThreshold,
		Probability: DefaultProbabilityThreshold,
	}
}

// Source is one of RawLabelArray, AlphaRaster or ProbabilityRaster.
type Source interface {
	decode(width, height int, t Thresholds) ([]bool, error)
}

// RawLabelArray holds one integer label per pixel (e.g. 1 = person, 0 = background).
type RawLabelArray struct {
	Labels []int32
}

// AlphaRaster is an RGBA buffer (4 bytes per pixel) where the alpha channel carries the mask.
type AlphaRaster struct {
	Pix []uint8
}

// ProbabilityRaster carries a per-pixel foreground probability, either as floats
// in [0,1] or as 0-255 bytes. Exactly one of Values or Bytes should be set.
type ProbabilityRaster struct {
	Values []float32
	Bytes  []uint8
}

// Normalize converts src into an occupancy grid using the default thresholds.
func Normalize(src Source, width, height int) (*Grid, error) {
	return NormalizeWith(src, width, height, DefaultThresholds())
}

// NormalizeWith converts src into an occupancy grid using custom thresholds.
func NormalizeWith(src Source, width, height int, t Thresholds) (*Grid, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no source", ErrInvalidMaskFormat)
	}
	if !validDimensions(width, height) {
		return nil, fmt.Errorf("%w: dimensions %dx%d", ErrInvalidMaskFormat, width, height)
	}
	occ, err := src.decode(width, height, t)
	if err != nil {
		return nil, err
	}
	return &Grid{Width: width, Height: height, Occupied: occ}, nil
}

func (s RawLabelArray) decode(width, height int, t Thresholds) ([]bool, error) {
	n := width * height
	if len(s.Labels) != n {
		return nil, lengthError("label array", len(s.Labels), n)
	}
	occ := make([]bool, n)
	for i, v := range s.Labels {
		occ[i] = v >= t.Label
	}
	return occ, nil
}

func (s AlphaRaster) decode(width, height int, t Thresholds) ([]bool, error) {
	n := width * height
	if len(s.Pix) != n*4 {
		return nil, lengthError("alpha raster", len(s.Pix), n*4)
	}
	occ := make([]bool, n)
	for i := range occ {
		occ[i] = s.Pix[i*4+3] > t.Alpha
	}
	return occ, nil
}

func (s ProbabilityRaster) decode(width, height int, t Thresholds) ([]bool, error) {
	n := width * height
	var occ []bool
	switch {
	case s.Values != nil && s.Bytes != nil:
		return nil, fmt.Errorf("%w: probability raster has both float and byte data", ErrInvalidMaskFormat)
	case s.Values != nil:
		if len(s.Values) != n {
			return nil, lengthError("probability raster", len(s.Values), n)
		}
		occ = make([]bool, n)
		for i, v := range s.Values {
			occ[i] = v > t.Probability
		}
	case s.Bytes != nil:
		if len(s.Bytes) != n {
			return nil, lengthError("probability raster", len(s.Bytes), n)
		}
		occ = make([]bool, n)
		for i, v := range s.Bytes {
			occ[i] = float32(v)/255.0 > t.Probability
		}
	default:
		return nil, fmt.Errorf("%w: probability raster is empty", ErrInvalidMaskFormat)
	}
	return occ, nil
}

func lengthError(kind string, got, want int) error {
	return fmt.Errorf("%w: %s has %d entries, want %d", ErrInvalidMaskFormat, kind, got, want)
}
