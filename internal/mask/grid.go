package mask

// Grid is the canonical occupancy representation of a segmentation mask.
// Occupied is row-major: Occupied[y*Width+x] is true iff the pixel belongs to the subject.
type Grid struct {
	Width    int
	Height   int
	Occupied []bool
}

// NewGrid allocates an all-background grid.
func NewGrid(width, height int) *Grid {
	return &Grid{Width: width, Height: height, Occupied: make([]bool, width*height)}
}

// Valid reports whether the grid has positive dimensions and a matching buffer.
func (g *Grid) Valid() bool {
	return g != nil && validDimensions(g.Width, g.Height) && len(g.Occupied) == g.Width*g.Height
}

// At reports whether (x, y) is foreground. Out-of-range coordinates are background.
func (g *Grid) At(x, y int) bool {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return false
	}
	return g.Occupied[y*g.Width+x]
}

// Set marks (x, y) as foreground or background. Out-of-range coordinates are ignored.
func (g *Grid) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= g.Width || y >= g.Height {
		return
	}
	g.Occupied[y*g.Width+x] = v
}

// Row returns the slice of row y, or nil when y is outside the grid.
func (g *Grid) Row(y int) []bool {
	if y < 0 || y >= g.Height {
		return nil
	}
	return g.Occupied[y*g.Width : (y+1)*g.Width]
}

// Count returns the number of foreground pixels.
func (g *Grid) Count() int {
	n := 0
	for _, v := range g.Occupied {
		if v {
			n++
		}
	}
	return n
}
