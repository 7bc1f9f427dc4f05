package measure

import "github.com/andresmejia3/silhouette/internal/mask"

// Span is the horizontal extent of foreground on one row. Both ends are inclusive pixel indices.
type Span struct {
	Left  int
	Right int
}

// Width is the distance between the outermost foreground pixels.
func (s Span) Width() int {
	return s.Right - s.Left
}

// ScanRow finds the leftmost and rightmost foreground pixels of row y within [x0, x1].
// y is clamped to the grid and the window is clipped to the row. It returns false
// when the window holds no foreground, so an empty row is never reported as width 0.
func ScanRow(g *mask.Grid, y, x0, x1 int) (Span, bool) {
	if !g.Valid() {
		return Span{}, false
	}
	y = clamp(y, 0, g.Height-1)
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if x1 < 0 || x0 >= g.Width {
		return Span{}, false
	}
	x0 = clamp(x0, 0, g.Width-1)
	x1 = clamp(x1, 0, g.Width-1)

	row := g.Row(y)
	left := -1
	right := -1
	for x := x0; x <= x1; x++ {
		if row[x] {
			if left == -1 {
				left = x
			}
			right = x
		}
	}
	if left == -1 {
		return Span{}, false
	}
	return Span{Left: left, Right: right}, true
}

// ScanFullRow scans the whole of row y.
func ScanFullRow(g *mask.Grid, y int) (Span, bool) {
	if !g.Valid() {
		return Span{}, false
	}
	return ScanRow(g, y, 0, g.Width-1)
}
