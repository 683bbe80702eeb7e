// Package imaging converts tile bitmaps to and from encoded bytes.
//
// Every cached tile is stored as Canonical (PNG); other formats are produced
// on the way out by an Encoder looked up in a Registry.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"strings"
	"sync"

	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"
)

// Format is the MIME type of an encoding.
type Format string

const (
	PNG  Format = "image/png"
	JPEG Format = "image/jpeg"
	GIF  Format = "image/gif"
	TIFF Format = "image/tiff"
	BMP  Format = "image/bmp"
	WebP Format = "image/webp"

	// Canonical is the single storage encoding of the tile cache.
	Canonical = PNG

	// JPEGQuality is shared by every JPEG encoder.
	JPEGQuality = 82
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

var extensions = map[string]Format{
	"png":  PNG,
	"jpg":  JPEG,
	"jpeg": JPEG,
	"gif":  GIF,
	"tif":  TIFF,
	"tiff": TIFF,
	"bmp":  BMP,
	"webp": WebP,
}

// ParseFormat accepts a MIME type ("image/png") or a file extension ("png",
// ".jpg"). Parameters after ';' are ignored.
func ParseFormat(s string) (Format, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	s = strings.TrimPrefix(s, ".")

	if f, ok := extensions[s]; ok {
		return f, true
	}
	for _, f := range extensions {
		if string(f) == s {
			return f, true
		}
	}
	return "", false
}

// Extension returns the conventional file extension without dot.
func (f Format) Extension() string {
	switch f {
	case JPEG:
		return "jpg"
	case TIFF:
		return "tif"
	}
	return strings.TrimPrefix(string(f), "image/")
}

// Encoder writes img in one format.
type Encoder interface {
	Encode(w io.Writer, img image.Image) error
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(w io.Writer, img image.Image) error

func (f EncoderFunc) Encode(w io.Writer, img image.Image) error {
	return f(w, img)
}

// Transcoder is implemented by encoders that convert canonical bytes
// directly, without a round trip through image.Image.
type Transcoder interface {
	TranscodeCanonical(data []byte) ([]byte, error)
}

// Registry maps formats to encoders. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	encoders map[Format]Encoder
}

// NewRegistry returns a registry with the pure-Go encoders installed.
func NewRegistry() *Registry {
	r := &Registry{encoders: make(map[Format]Encoder)}

	r.Register(PNG, &png.Encoder{CompressionLevel: png.DefaultCompression})
	r.Register(JPEG, EncoderFunc(func(w io.Writer, img image.Image) error {
		return jpeg.Encode(w, img, &jpeg.Options{Quality: JPEGQuality})
	}))
	r.Register(GIF, EncoderFunc(func(w io.Writer, img image.Image) error {
		return gif.Encode(w, img, nil)
	}))
	r.Register(TIFF, EncoderFunc(func(w io.Writer, img image.Image) error {
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	}))
	r.Register(BMP, EncoderFunc(bmp.Encode))

	return r
}

// Register installs or replaces the encoder for f.
func (r *Registry) Register(f Format, e Encoder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encoders[f] = e
}

// Encoder returns the encoder for f.
func (r *Registry) Encoder(f Format) (Encoder, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.encoders[f]
	return e, ok
}

// Formats lists the formats that can be produced.
func (r *Registry) Formats() []Format {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Format, 0, len(r.encoders))
	for f := range r.encoders {
		out = append(out, f)
	}
	return out
}

// Encode encodes img as f. A missing encoder yields ErrUnsupportedFormat.
func (r *Registry) Encode(img image.Image, f Format) ([]byte, error) {
	e, ok := r.Encoder(f)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}

	var buf bytes.Buffer
	if err := e.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", f, err)
	}
	return buf.Bytes(), nil
}

// Convert re-encodes canonical bytes as f. Only a missing encoder yields
// ErrUnsupportedFormat; any other error means data could not be processed.
func (r *Registry) Convert(data []byte, f Format) ([]byte, error) {
	e, ok := r.Encoder(f)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, f)
	}

	if t, ok := e.(Transcoder); ok {
		out, err := t.TranscodeCanonical(data)
		if err != nil {
			return nil, fmt.Errorf("failed to transcode to %s: %w", f, err)
		}
		return out, nil
	}

	img, err := Decode(data)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := e.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", f, err)
	}
	return buf.Bytes(), nil
}

// Decode decodes any registered image encoding.
func Decode(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	return img, nil
}
