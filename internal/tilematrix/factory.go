package tilematrix

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
)

var ErrInvalidScaleSet = errors.New("invalid scale set")

// ScaleSet is the compact description of a pyramid: entry i of each slice
// describes level i.
type ScaleSet struct {
	ScaleDenominators []float64
	MatrixWidths      []int
	MatrixHeights     []int
}

// CreateFixedDimSet builds a set whose levels all use tileWidth x tileHeight
// pixel tiles over the same envelope.
func CreateFixedDimSet(id, crs string, bounds orb.Bound, tileWidth, tileHeight int, scales ScaleSet) (*TileMatrixSet, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty identifier", ErrInvalidScaleSet)
	}
	if tileWidth <= 0 || tileHeight <= 0 {
		return nil, fmt.Errorf("%w: tile size %dx%d", ErrInvalidScaleSet, tileWidth, tileHeight)
	}

	n := len(scales.ScaleDenominators)
	if len(scales.MatrixWidths) != n || len(scales.MatrixHeights) != n {
		return nil, fmt.Errorf("%w: %d scales, %d widths, %d heights",
			ErrInvalidScaleSet, n, len(scales.MatrixWidths), len(scales.MatrixHeights))
	}

	matrices := make([]TileMatrix, n)
	for i := 0; i < n; i++ {
		if scales.ScaleDenominators[i] <= 0 || scales.MatrixWidths[i] <= 0 || scales.MatrixHeights[i] <= 0 {
			return nil, fmt.Errorf("%w: level %d has non-positive dimensions", ErrInvalidScaleSet, i)
		}
		// A finer level covers the same envelope with at least as many tiles.
		if i > 0 && scales.ScaleDenominators[i] < scales.ScaleDenominators[i-1] &&
			(scales.MatrixWidths[i] < scales.MatrixWidths[i-1] || scales.MatrixHeights[i] < scales.MatrixHeights[i-1]) {
			return nil, fmt.Errorf("%w: level %d is finer than level %d but has fewer tiles", ErrInvalidScaleSet, i, i-1)
		}

		matrices[i] = TileMatrix{
			Index:            i,
			ScaleDenominator: scales.ScaleDenominators[i],
			Bounds:           bounds,
			TileWidth:        tileWidth,
			TileHeight:       tileHeight,
			MatrixWidth:      scales.MatrixWidths[i],
			MatrixHeight:     scales.MatrixHeights[i],
		}
	}

	return &TileMatrixSet{
		identifier:   id,
		supportedCRS: crs,
		bounds:       bounds,
		matrices:     matrices,
	}, nil
}

// MatrixID returns the durable level identifier "<setID>:<index>".
func MatrixID(setID string, m TileMatrix) string {
	return setID + ":" + strconv.Itoa(m.Index)
}

// LookupMatrix resolves a level identifier produced by MatrixID against set.
// Any malformed identifier, foreign prefix or out-of-range index yields false.
func LookupMatrix(set *TileMatrixSet, matrixID string) (TileMatrix, bool) {
	if set == nil {
		return TileMatrix{}, false
	}

	sep := strings.LastIndexByte(matrixID, ':')
	if sep < 0 || matrixID[:sep] != set.identifier {
		return TileMatrix{}, false
	}

	suffix := matrixID[sep+1:]
	if !isCanonicalIndex(suffix) {
		return TileMatrix{}, false
	}
	index, err := strconv.Atoi(suffix)
	if err != nil {
		return TileMatrix{}, false
	}

	return set.Matrix(index)
}

// isCanonicalIndex accepts exactly the digits strconv.Itoa produces for a
// non-negative int: no sign and no leading zero.
func isCanonicalIndex(s string) bool {
	if s == "" || (len(s) > 1 && s[0] == '0') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
