package client

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/andresmejia3/silhouette/internal/measure"
)

// DefaultTopK is the number of recommendations requested when none is given.
const DefaultTopK = 3

// GenderCode is the classifier's numeric gender enum. It always encodes with a
// decimal point (1.0, 2.0) because the service reads it as a float.
type GenderCode float64

// Gender codes used by the classifier.
const (
	GenderMale   GenderCode = 1.0
	GenderFemale GenderCode = 2.0
)

// MarshalJSON writes the code with one decimal place.
func (g GenderCode) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatFloat(float64(g), 'f', 1, 64)), nil
}

// ErrIncompleteMeasurement is returned when a result lacks a width the classifier needs.
var ErrIncompleteMeasurement = errors.New("incomplete measurement")

// ClassifyRequest is the classifier's input. Gender is a float-encoded enum.
type ClassifyRequest struct {
	ShoulderWidth float64    `json:"shoulderWidth"`
	Waist         float64    `json:"waist"`
	Hips          float64    `json:"hips"`
	Gender        GenderCode `json:"gender"`
	Age           int        `json:"age"`
}

// ClassifyResponse is the classifier's output.
type ClassifyResponse struct {
	BodyType string `json:"bodyType"`
}

// RecommendRequest is the recommender's input.
type RecommendRequest struct {
	Gender    string `json:"gender"`
	BodyShape string `json:"body_shape"`
	Prompt    string `json:"prompt"`
	TopK      int    `json:"topk"`
}

// RecommendResponse is the recommender's output.
type RecommendResponse struct {
	Recommendations []Recommendation `json:"recommendations"`
}

// Recommendation is a single outfit suggestion.
type Recommendation struct {
	ImageURL       string            `json:"image_url"`
	ImageLabel     string            `json:"image_label"`
	Gender         string            `json:"gender"`
	StyleScore     float64           `json:"style_score"`
	TotalScore     float64           `json:"total_score"`
	BodyshapeScore float64           `json:"bodyshape_score"`
	Attributes     map[string]string `json:"attributes"`
}

// ParseGender maps "male"/"female" to the classifier's numeric code.
func ParseGender(gender string) (GenderCode, error) {
	switch strings.ToLower(strings.TrimSpace(gender)) {
	case "male":
		return GenderMale, nil
	case "female":
		return GenderFemale, nil
	default:
		return 0, fmt.Errorf("unknown gender %q (want male or female)", gender)
	}
}

// NewClassifyRequest adapts an engine result into a classifier request.
// It refuses results with missing widths instead of sending nulls.
func NewClassifyRequest(res measure.Result, gender string, age int) (ClassifyRequest, error) {
	if missing := res.Missing(); len(missing) > 0 {
		return ClassifyRequest{}, fmt.Errorf("%w: missing %s", ErrIncompleteMeasurement, strings.Join(missing, ", "))
	}
	code, err := ParseGender(gender)
	if err != nil {
		return ClassifyRequest{}, err
	}
	return ClassifyRequest{
		ShoulderWidth: float64(*res.ShoulderWidthPx),
		Waist:         float64(*res.WaistWidthPx),
		Hips:          float64(*res.HipWidthPx),
		Gender:        code,
		Age:           age,
	}, nil
}
