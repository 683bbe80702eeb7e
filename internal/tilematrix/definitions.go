package tilematrix

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/paulmach/orb"
)

// Definition is the on-disk form of a fixed-dimension set.
//
//	matrix_sets:
//	  - identifier: UTM32Quad
//	    crs: urn:ogc:def:crs:EPSG::25832
//	    bounds: [-46133.17, 5048875.26, 1206211.10, 6301219.54]
//	    tile_width: 256
//	    tile_height: 256
//	    scale_denominators: [17471320.75, 8735660.37]
//	    matrix_widths: [1, 2]
//	    matrix_heights: [1, 2]
type Definition struct {
	Identifier        string    `koanf:"identifier" validate:"required"`
	CRS               string    `koanf:"crs" validate:"required"`
	Bounds            []float64 `koanf:"bounds" validate:"len=4"`
	TileWidth         int       `koanf:"tile_width" validate:"gt=0"`
	TileHeight        int       `koanf:"tile_height" validate:"gt=0"`
	ScaleDenominators []float64 `koanf:"scale_denominators" validate:"min=1,dive,gt=0"`
	MatrixWidths      []int     `koanf:"matrix_widths" validate:"min=1,dive,gt=0"`
	MatrixHeights     []int     `koanf:"matrix_heights" validate:"min=1,dive,gt=0"`
}

type definitionFile struct {
	MatrixSets []Definition `koanf:"matrix_sets" validate:"dive"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Build turns the definition into a set.
func (d Definition) Build() (*TileMatrixSet, error) {
	if err := validate.Struct(d); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidScaleSet, d.Identifier, err)
	}

	bounds := orb.Bound{
		Min: orb.Point{d.Bounds[0], d.Bounds[1]},
		Max: orb.Point{d.Bounds[2], d.Bounds[3]},
	}
	if bounds.Min[0] >= bounds.Max[0] || bounds.Min[1] >= bounds.Max[1] {
		return nil, fmt.Errorf("%w: %s: empty bounds", ErrInvalidScaleSet, d.Identifier)
	}

	return CreateFixedDimSet(d.Identifier, d.CRS, bounds, d.TileWidth, d.TileHeight, ScaleSet{
		ScaleDenominators: d.ScaleDenominators,
		MatrixWidths:      d.MatrixWidths,
		MatrixHeights:     d.MatrixHeights,
	})
}

// LoadDefinitions reads a YAML file of set definitions and builds every set.
// Nothing is returned unless all of them are valid.
func LoadDefinitions(path string) ([]*TileMatrixSet, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("failed to load matrix set file %s: %w", path, err)
	}

	var doc definitionFile
	if err := k.Unmarshal("", &doc); err != nil {
		return nil, fmt.Errorf("failed to decode matrix set file %s: %w", path, err)
	}

	sets := make([]*TileMatrixSet, 0, len(doc.MatrixSets))
	for _, def := range doc.MatrixSets {
		set, err := def.Build()
		if err != nil {
			return nil, err
		}
		sets = append(sets, set)
	}
	return sets, nil
}
