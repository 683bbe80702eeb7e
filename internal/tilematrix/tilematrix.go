// Package tilematrix describes tile pyramids and keeps a registry of them.
//
// A TileMatrixSet is an ordered list of zoom levels (TileMatrix) sharing one
// CRS and one envelope. Sets are immutable once built: changing a pyramid
// means building a new set and registering it under a new identifier.
package tilematrix

import (
	"github.com/paulmach/orb"
)

// TileMatrix is the grid geometry of one zoom level.
type TileMatrix struct {
	Index            int
	ScaleDenominator float64
	Bounds           orb.Bound
	TileWidth        int
	TileHeight       int
	MatrixWidth      int
	MatrixHeight     int
}

// Contains reports whether (row, col) addresses a tile of this level.
func (m TileMatrix) Contains(row, col int) bool {
	return row >= 0 && col >= 0 && row < m.MatrixHeight && col < m.MatrixWidth
}

// TileBound returns the envelope covered by the tile at (row, col). Row 0 is
// the top edge of the set envelope, column 0 the left edge.
func (m TileMatrix) TileBound(row, col int) orb.Bound {
	spanX := (m.Bounds.Max[0] - m.Bounds.Min[0]) / float64(m.MatrixWidth)
	spanY := (m.Bounds.Max[1] - m.Bounds.Min[1]) / float64(m.MatrixHeight)

	minX := m.Bounds.Min[0] + float64(col)*spanX
	maxY := m.Bounds.Max[1] - float64(row)*spanY

	return orb.Bound{
		Min: orb.Point{minX, maxY - spanY},
		Max: orb.Point{minX + spanX, maxY},
	}
}

// TileMatrixSet is an immutable zoom pyramid.
type TileMatrixSet struct {
	identifier   string
	supportedCRS string
	bounds       orb.Bound
	matrices     []TileMatrix
}

func (s *TileMatrixSet) ID() string {
	return s.identifier
}

// CRS returns the URN of the coordinate reference system.
func (s *TileMatrixSet) CRS() string {
	return s.supportedCRS
}

func (s *TileMatrixSet) Bounds() orb.Bound {
	return s.bounds
}

// Len returns the number of levels.
func (s *TileMatrixSet) Len() int {
	return len(s.matrices)
}

// Matrix returns the level with the given index.
func (s *TileMatrixSet) Matrix(index int) (TileMatrix, bool) {
	if index < 0 || index >= len(s.matrices) {
		return TileMatrix{}, false
	}
	return s.matrices[index], true
}

// Matrices returns a copy of all levels ordered by index.
func (s *TileMatrixSet) Matrices() []TileMatrix {
	out := make([]TileMatrix, len(s.matrices))
	copy(out, s.matrices)
	return out
}
