// Package render defines the rendering collaborator of the tile service and
// ships a debug implementation that paints tile coordinates.
package render

import (
	"context"
	"fmt"
	"hash/fnv"
	"image"
	"image/color"
	"image/draw"
	"sort"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"wmtscache/internal/tilematrix"
)

// Tile is everything a renderer needs to draw one tile.
type Tile struct {
	Layer      string
	Style      string
	Dimensions map[string]string
	MatrixSet  string
	CRS        string
	Matrix     tilematrix.TileMatrix
	Row        int
	Col        int
}

// Renderer draws one tile. Implementations must honour ctx cancellation
// where drawing can block.
type Renderer interface {
	Render(ctx context.Context, t Tile) (image.Image, error)
}

// Func adapts a function to Renderer.
type Func func(ctx context.Context, t Tile) (image.Image, error)

func (f Func) Render(ctx context.Context, t Tile) (image.Image, error) {
	return f(ctx, t)
}

// Debug paints a flat colour derived from layer, style and dimensions, a
// border, and the tile address. It is deterministic for a given Tile.
type Debug struct{}

var (
	borderColor = color.NRGBA{R: 60, G: 60, B: 60, A: 255}
	textColor   = color.NRGBA{R: 20, G: 20, B: 20, A: 255}
)

func (Debug) Render(ctx context.Context, t Tile) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	w, h := t.Matrix.TileWidth, t.Matrix.TileHeight
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid tile size %dx%d", w, h)
	}

	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: fillColor(t)}, image.Point{}, draw.Src)

	for x := 0; x < w; x++ {
		img.SetNRGBA(x, 0, borderColor)
		img.SetNRGBA(x, h-1, borderColor)
	}
	for y := 0; y < h; y++ {
		img.SetNRGBA(0, y, borderColor)
		img.SetNRGBA(w-1, y, borderColor)
	}

	bound := t.Matrix.TileBound(t.Row, t.Col)
	lines := []string{
		fmt.Sprintf("%s %d/%d/%d", t.MatrixSet, t.Matrix.Index, t.Row, t.Col),
		t.Layer + " " + t.Style,
		fmt.Sprintf("%.4g %.4g", bound.Min[0], bound.Min[1]),
		fmt.Sprintf("%.4g %.4g", bound.Max[0], bound.Max[1]),
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(textColor),
		Face: basicfont.Face7x13,
	}
	for i, line := range lines {
		d.Dot = fixed.P(6, 16+i*15)
		d.DrawString(line)
	}

	return img, nil
}

func fillColor(t Tile) color.NRGBA {
	h := fnv.New32a()
	h.Write([]byte(t.Layer))
	h.Write([]byte{0})
	h.Write([]byte(t.Style))

	names := make([]string, 0, len(t.Dimensions))
	for name := range t.Dimensions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		h.Write([]byte{0})
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write([]byte(t.Dimensions[name]))
	}

	sum := h.Sum32()
	// keep it light so the label stays readable
	return color.NRGBA{
		R: 128 + uint8(sum>>16)%128,
		G: 128 + uint8(sum>>8)%128,
		B: 128 + uint8(sum)%128,
		A: 255,
	}
}
