// Package vipscodec provides libvips-backed encoders for formats the Go
// standard library cannot write. The process must call vips.Startup before
// any encoder is used.
package vipscodec

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/cshum/vipsgen/vips"

	"wmtscache/internal/imaging"
)

// Encoder converts canonical PNG tiles with libvips.
type Encoder struct {
	format  imaging.Format
	quality int
}

var (
	_ imaging.Encoder    = (*Encoder)(nil)
	_ imaging.Transcoder = (*Encoder)(nil)
)

// New returns an encoder for WebP or JPEG.
func New(format imaging.Format, quality int) (*Encoder, error) {
	switch format {
	case imaging.WebP, imaging.JPEG:
	default:
		return nil, fmt.Errorf("%w: vips encoder for %s", imaging.ErrUnsupportedFormat, format)
	}
	return &Encoder{format: format, quality: quality}, nil
}

// Register installs vips encoders for WebP and JPEG into r.
func Register(r *imaging.Registry, quality int) {
	for _, f := range []imaging.Format{imaging.WebP, imaging.JPEG} {
		e, _ := New(f, quality)
		r.Register(f, e)
	}
}

func (e *Encoder) Encode(w io.Writer, img image.Image) error {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("failed to stage png: %w", err)
	}

	data, err := e.TranscodeCanonical(buf.Bytes())
	if err != nil {
		return err
	}

	_, err = w.Write(data)
	return err
}

func (e *Encoder) TranscodeCanonical(data []byte) ([]byte, error) {
	img, err := vips.NewPngloadBuffer(data, vips.DefaultPngloadBufferOptions())
	if err != nil {
		return nil, fmt.Errorf("failed to load png: %w", err)
	}
	defer img.Close()

	switch e.format {
	case imaging.WebP:
		opts := vips.DefaultWebpsaveBufferOptions()
		opts.Q = e.quality
		return img.WebpsaveBuffer(opts)
	default:
		// JPEG has no alpha channel
		if img.HasAlpha() {
			flattenOpts := vips.DefaultFlattenOptions()
			flattenOpts.Background = []float64{255, 255, 255}
			if err := img.Flatten(flattenOpts); err != nil {
				return nil, fmt.Errorf("failed to flatten: %w", err)
			}
		}
		opts := vips.DefaultJpegsaveBufferOptions()
		opts.Q = e.quality
		opts.Interlace = false
		return img.JpegsaveBuffer(opts)
	}
}
