// Package measure extracts body widths by fusing an occupancy grid with pose landmarks.
//
// Everything here is a pure function of its inputs. An Engine only carries
// read-only parameters and can be shared across goroutines.
package measure

import (
	"math"

	"github.com/andresmejia3/silhouette/internal/mask"
	"github.com/andresmejia3/silhouette/internal/pose"
	"gonum.org/v1/gonum/floats"
)

// Input is one image's worth of perception output.
type Input struct {
	// Mask may be nil when segmentation produced nothing usable.
	Mask      *mask.Grid
	Landmarks pose.Landmarks
	// Width and Height are the image dimensions the landmarks are normalized to.
	// When zero they are taken from Mask.
	Width  int
	Height int
}

// Engine computes measurements with a fixed set of parameters.
type Engine struct {
	params Params
}

// New creates an engine.
func New(p Params) *Engine {
	return &Engine{params: p}
}

// Params returns the engine's parameters.
func (e *Engine) Params() Params {
	return e.params
}

// Measure computes shoulder, waist and hip widths. Each is computed independently;
// a missing input only nils the measurements that depend on it.
func (e *Engine) Measure(in Input) Result {
	width, height := in.Width, in.Height
	if (width <= 0 || height <= 0) && in.Mask.Valid() {
		width, height = in.Mask.Width, in.Mask.Height
	}
	if width <= 0 || height <= 0 {
		return Result{}
	}

	var shoulder, hip *float32
	if d, ok := JointDistance(in.Landmarks, pose.LeftShoulder, pose.RightShoulder, width, height); ok {
		shoulder = &d
	}
	if d, ok := JointDistance(in.Landmarks, pose.LeftHip, pose.RightHip, width, height); ok {
		d += e.params.HipPaddingPx
		hip = &d
	}

	var waist *int
	if scan, ok := e.Waist(in.Mask, in.Landmarks, width, height); ok {
		w := scan.Span.Width()
		waist = &w
	}

	return Aggregate(shoulder, hip, waist)
}

// JointDistance is the pixel distance between joints a and b on a width x height image.
// Each axis is denormalized with its own dimension.
func JointDistance(lms pose.Landmarks, a, b, width, height int) (float32, bool) {
	pa, ok := lms.Joint(a, width, height)
	if !ok {
		return 0, false
	}
	pb, ok := lms.Joint(b, width, height)
	if !ok {
		return 0, false
	}
	return float32(floats.Distance([]float64{pa.X, pa.Y}, []float64{pb.X, pb.Y}, 2)), true
}

// WaistScan describes where the waist was found.
type WaistScan struct {
	Target int // row derived from the joints
	Row    int // row that produced the span
	Span   Span
}

// Waist locates the waist band and scans the mask for its width.
//
// The target row sits WaistRatio of the way from the hip line toward the
// shoulder line, and the scan is limited to the hip joints plus WaistMarginPx so
// arms hanging beside the torso are excluded. Empty rows are retried outward,
// one row at a time, up to WaistFallbackRows away from the target.
func (e *Engine) Waist(g *mask.Grid, lms pose.Landmarks, width, height int) (WaistScan, bool) {
	if !g.Valid() {
		return WaistScan{}, false
	}

	if len(lms) == 0 {
		if !e.params.HeightFallback {
			return WaistScan{}, false
		}
		target := int(math.Floor(float64(g.Height) * e.params.HeightFallbackRatio))
		return e.scanAround(g, target, 0, g.Width-1)
	}

	ls, ok1 := lms.Joint(pose.LeftShoulder, width, height)
	rs, ok2 := lms.Joint(pose.RightShoulder, width, height)
	lh, ok3 := lms.Joint(pose.LeftHip, width, height)
	rh, ok4 := lms.Joint(pose.RightHip, width, height)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return WaistScan{}, false
	}

	shoulderY := (ls.Y + rs.Y) / 2
	hipY := (lh.Y + rh.Y) / 2
	target := int(math.Floor(hipY - (hipY-shoulderY)*e.params.WaistRatio))

	x0 := int(math.Floor(math.Min(lh.X, rh.X) - e.params.WaistMarginPx))
	x1 := int(math.Ceil(math.Max(lh.X, rh.X) + e.params.WaistMarginPx))

	return e.scanAround(g, target, x0, x1)
}

// scanAround tries the target row first, then target-1, target+1, target-2, ...
// Rows that fall outside the grid are skipped.
func (e *Engine) scanAround(g *mask.Grid, target, x0, x1 int) (WaistScan, bool) {
	target = clamp(target, 0, g.Height-1)
	for d := 0; d <= e.params.WaistFallbackRows; d++ {
		for _, y := range offsets(target, d) {
			if y < 0 || y >= g.Height {
				continue
			}
			if span, ok := ScanRow(g, y, x0, x1); ok {
				return WaistScan{Target: target, Row: y, Span: span}, true
			}
		}
	}
	return WaistScan{Target: target}, false
}

func offsets(target, d int) []int {
	if d == 0 {
		return []int{target}
	}
	return []int{target - d, target + d}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
