// Package refine cleans up occupancy grids with OpenCV morphology before they are measured.
package refine

import (
	"fmt"
	"image"
	"image/color"

	"github.com/andresmejia3/silhouette/internal/mask"
	"gocv.io/x/gocv"
)

// CloseGaps applies a morphological close with an elliptical kernel of the given size.
// Thin background seams inside the silhouette (anti-aliasing, occlusion edges) are filled;
// the grid dimensions never change. A kernel below 2 returns g unchanged.
func CloseGaps(g *mask.Grid, kernel int) (*mask.Grid, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("%w: cannot refine an invalid grid", mask.ErrInvalidMaskFormat)
	}
	if kernel < 2 {
		return g, nil
	}

	src, err := toMat(g)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	k := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernel, Y: kernel})
	defer k.Close()

	closed := gocv.NewMat()
	defer closed.Close()
	gocv.MorphologyEx(src, &closed, gocv.MorphClose, k)

	return fromMat(closed, g.Width, g.Height)
}

// KeepLargest drops every foreground region except the largest external contour,
// so stray blobs (a second person, background clutter) cannot widen a scan-line.
// Holes inside the kept region stay background.
func KeepLargest(g *mask.Grid) (*mask.Grid, error) {
	if !g.Valid() {
		return nil, fmt.Errorf("%w: cannot refine an invalid grid", mask.ErrInvalidMaskFormat)
	}

	src, err := toMat(g)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	contours := gocv.FindContours(src, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()
	if contours.Size() <= 1 {
		return g, nil
	}

	maxArea := 0.0
	maxIndex := 0
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > maxArea {
			maxArea = area
			maxIndex = i
		}
	}

	kept := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), g.Height, g.Width, gocv.MatTypeCV8U)
	defer kept.Close()
	gocv.DrawContours(&kept, contours, maxIndex, colorWhite, -1)

	// The filled contour covers holes inside the region; keep only original foreground.
	region := gocv.NewMat()
	defer region.Close()
	gocv.BitwiseAnd(kept, src, &region)

	return fromMat(region, g.Width, g.Height)
}

// Apply runs the enabled clean-up steps: gap closing first, then largest-region selection.
func Apply(g *mask.Grid, kernel int, keepLargest bool) (*mask.Grid, error) {
	out, err := CloseGaps(g, kernel)
	if err != nil {
		return nil, err
	}
	if keepLargest {
		return KeepLargest(out)
	}
	return out, nil
}

var colorWhite = color.RGBA{R: 255, G: 255, B: 255, A: 255}

func toMat(g *mask.Grid) (gocv.Mat, error) {
	data := make([]byte, len(g.Occupied))
	for i, v := range g.Occupied {
		if v {
			data[i] = 255
		}
	}
	return gocv.NewMatFromBytes(g.Height, g.Width, gocv.MatTypeCV8U, data)
}

func fromMat(m gocv.Mat, width, height int) (*mask.Grid, error) {
	if m.Rows() != height || m.Cols() != width {
		return nil, fmt.Errorf("refined mask is %dx%d, want %dx%d", m.Cols(), m.Rows(), width, height)
	}
	data := m.ToBytes()
	out := mask.NewGrid(width, height)
	for i := range out.Occupied {
		out.Occupied[i] = data[i] > 127
	}
	return out, nil
}
