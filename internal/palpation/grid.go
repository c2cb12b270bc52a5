package palpation

import "gonum.org/v1/gonum/spatial/r3"

// GridSequencer lays palpation cells out row-major over a square region
// anchored at the start position. Index k maps to row k/Columns along x and
// column k%Columns along y.
type GridSequencer struct {
	Columns  int
	CellSize float64
	XBound   float64
}

// Offset returns the x/y offset of cell k from the origin.
func (g GridSequencer) Offset(k int) (dx, dy float64) {
	return g.CellSize * float64(k/g.Columns), g.CellSize * float64(k%g.Columns)
}

// Cell returns the position of cell k at the origin's height.
func (g GridSequencer) Cell(origin r3.Vec, k int) r3.Vec {
	dx, dy := g.Offset(k)
	return r3.Vec{X: origin.X + dx, Y: origin.Y + dy, Z: origin.Z}
}

// Complete reports whether grid has left the region.
func (g GridSequencer) Complete(origin, grid r3.Vec) bool {
	return grid.X > origin.X+g.XBound
}

// Cells enumerates every cell visited before the sequence completes.
func (g GridSequencer) Cells(origin r3.Vec) []r3.Vec {
	var out []r3.Vec
	for k := 0; ; k++ {
		c := g.Cell(origin, k)
		if g.Complete(origin, c) {
			return out
		}
		out = append(out, c)
	}
}
