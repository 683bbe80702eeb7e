package render

import (
	"context"
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wmtscache/internal/tilematrix"
)

func mercatorLevel(t *testing.T, index int) tilematrix.TileMatrix {
	t.Helper()
	set, ok := tilematrix.NewDefaultRegistry().Get(tilematrix.WebMercatorQuadID)
	require.True(t, ok)
	m, ok := set.Matrix(index)
	require.True(t, ok)
	return m
}

func TestDebug_Render(t *testing.T) {
	tile := Tile{
		Layer:     "roads",
		Style:     "default",
		MatrixSet: tilematrix.WebMercatorQuadID,
		Matrix:    mercatorLevel(t, 2),
		Row:       1,
		Col:       3,
	}

	img, err := Debug{}.Render(context.Background(), tile)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 256, 256), img.Bounds())

	again, err := Debug{}.Render(context.Background(), tile)
	require.NoError(t, err)
	assert.Equal(t, img, again)
}

func TestDebug_ColourDependsOnDimensions(t *testing.T) {
	base := Tile{Layer: "l", Style: "s", Matrix: mercatorLevel(t, 0)}
	other := base
	other.Dimensions = map[string]string{"TIME": "2024"}

	a, err := Debug{}.Render(context.Background(), base)
	require.NoError(t, err)
	b, err := Debug{}.Render(context.Background(), other)
	require.NoError(t, err)

	// centre pixels sit outside border and label
	assert.NotEqual(t, a.At(200, 200), b.At(200, 200))
}

func TestDebug_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Debug{}.Render(ctx, Tile{Matrix: mercatorLevel(t, 0)})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFunc(t *testing.T) {
	called := false
	r := Func(func(ctx context.Context, tile Tile) (image.Image, error) {
		called = true
		return image.NewGray(image.Rect(0, 0, 1, 1)), nil
	})

	_, err := r.Render(context.Background(), Tile{})
	require.NoError(t, err)
	assert.True(t, called)
}
