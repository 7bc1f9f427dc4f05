// Package pose wraps the keypoint sequence produced by a 33-point pose model.
package pose

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Joint indices in the 33-point pose topology.
const (
	LeftShoulder  = 11
	RightShoulder = 12
	LeftHip       = 23
	RightHip      = 24
)

// NumLandmarks is the length of a full pose.
const NumLandmarks = 33

// Landmark is a keypoint normalized to the image: X by width, Y by height.
type Landmark struct {
	X          float32  `json:"x"`
	Y          float32  `json:"y"`
	Z          *float32 `json:"z,omitempty"`
	Visibility *float32 `json:"visibility,omitempty"`
}

// Point is a position in image pixels.
type Point struct {
	X, Y float64
}

// Landmarks is an ordered keypoint sequence. Index i is joint i of the topology.
type Landmarks []Landmark

// Joint returns the pixel position of joint index on a width x height image.
// It returns false when the sequence is too short to contain the joint.
func (l Landmarks) Joint(index, width, height int) (Point, bool) {
	if index < 0 || index >= len(l) {
		return Point{}, false
	}
	lm := l[index]
	return Point{
		X: float64(lm.X) * float64(width),
		Y: float64(lm.Y) * float64(height),
	}, true
}

// Has reports whether every given index is present.
func (l Landmarks) Has(indices ...int) bool {
	for _, i := range indices {
		if i < 0 || i >= len(l) {
			return false
		}
	}
	return true
}

// Decode reads landmarks from JSON. Both a bare array of keypoints and the
// detector result shape {"landmarks": [[...], ...]} are accepted; for the latter
// only the first pose is used.
func Decode(r io.Reader) (Landmarks, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	var flat Landmarks
	if err := json.Unmarshal(raw, &flat); err == nil {
		return flat, nil
	}

	var result struct {
		Landmarks []Landmarks `json:"landmarks"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("failed to parse landmarks: %w", err)
	}
	if len(result.Landmarks) == 0 {
		return Landmarks{}, nil
	}
	return result.Landmarks[0], nil
}

// DecodeFile reads landmarks from a JSON file. See Decode.
func DecodeFile(path string) (Landmarks, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}
