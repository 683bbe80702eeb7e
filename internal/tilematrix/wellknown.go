package tilematrix

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	WorldCRS84QuadID  = "WorldCRS84Quad"
	WebMercatorQuadID = "WebMercatorQuad"

	CRS84     = "urn:ogc:def:crs:OGC:1.3:CRS84"
	EPSG3857  = "urn:ogc:def:crs:EPSG::3857"
	TileSize  = 256
	MaxLevels = 19

	// 0.28 mm standardized rendering pixel
	pixelSizeMeters = 0.00028
	earthRadius     = 6378137.0
)

var (
	worldCRS84Bound = orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}

	mercatorHalfWorld = math.Pi * earthRadius
	webMercatorBound  = orb.Bound{
		Min: orb.Point{-mercatorHalfWorld, -mercatorHalfWorld},
		Max: orb.Point{mercatorHalfWorld, mercatorHalfWorld},
	}
)

// WellKnownSets builds the two global pyramids every registry starts with:
// a geographic lon/lat quad tree (2x1 tiles at level 0) and spherical
// Web Mercator (1x1 tile at level 0).
func WellKnownSets() []*TileMatrixSet {
	metersPerDegree := 2 * math.Pi * earthRadius / 360

	crs84 := pyramid(MaxLevels, 2, 1, 180.0/TileSize*metersPerDegree/pixelSizeMeters)
	mercator := pyramid(MaxLevels, 1, 1, 2*mercatorHalfWorld/TileSize/pixelSizeMeters)

	sets := make([]*TileMatrixSet, 0, 2)
	for _, def := range []struct {
		id, crs string
		bounds  orb.Bound
		scales  ScaleSet
	}{
		{WorldCRS84QuadID, CRS84, worldCRS84Bound, crs84},
		{WebMercatorQuadID, EPSG3857, webMercatorBound, mercator},
	} {
		set, err := CreateFixedDimSet(def.id, def.crs, def.bounds, TileSize, TileSize, def.scales)
		if err != nil {
			panic("tilematrix: invalid well-known set " + def.id + ": " + err.Error())
		}
		sets = append(sets, set)
	}
	return sets
}

// pyramid doubles the grid and halves the scale on every level.
func pyramid(levels, width0, height0 int, scale0 float64) ScaleSet {
	s := ScaleSet{
		ScaleDenominators: make([]float64, levels),
		MatrixWidths:      make([]int, levels),
		MatrixHeights:     make([]int, levels),
	}
	for i := 0; i < levels; i++ {
		s.ScaleDenominators[i] = scale0 / float64(int(1)<<i)
		s.MatrixWidths[i] = width0 << i
		s.MatrixHeights[i] = height0 << i
	}
	return s
}
