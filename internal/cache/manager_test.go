package cache

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"wmtscache/internal/imaging"
)

// spyBackend records every call and delegates to a memory backend.
type spyBackend struct {
	mu       sync.Mutex
	inner    *MemoryBackend
	reads    int
	writes   int
	removes  int
	readErr  error
	writeErr error
}

func newSpy() *spyBackend {
	return &spyBackend{inner: NewMemoryBackend(8)}
}

func (s *spyBackend) Name() string { return "spy" }

func (s *spyBackend) Read(key string) ([]byte, error) {
	s.mu.Lock()
	s.reads++
	err := s.readErr
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.inner.Read(key)
}

func (s *spyBackend) Write(key string, data []byte) error {
	s.mu.Lock()
	s.writes++
	err := s.writeErr
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.inner.Write(key, data)
}

func (s *spyBackend) Remove(key string) error {
	s.mu.Lock()
	s.removes++
	s.mu.Unlock()
	return s.inner.Remove(key)
}

func (s *spyBackend) calls() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.writes, s.removes
}

func tileImage() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 16), G: uint8(y * 16), B: 200, A: 255})
		}
	}
	return img
}

func assertPixelEqual(t *testing.T, want image.Image, data []byte) {
	t.Helper()
	got, err := imaging.Decode(data)
	require.NoError(t, err)
	require.Equal(t, want.Bounds(), got.Bounds())
	for y := want.Bounds().Min.Y; y < want.Bounds().Max.Y; y++ {
		for x := want.Bounds().Min.X; x < want.Bounds().Max.X; x++ {
			require.Equal(t, color.NRGBAModel.Convert(want.At(x, y)), color.NRGBAModel.Convert(got.At(x, y)), "pixel %d,%d", x, y)
		}
	}
}

func TestManager_RoundTripCanonical(t *testing.T) {
	m := NewManager(NewMemoryBackend(4), ManagerOptions{Logger: zap.NewNop()})
	img := tileImage()

	m.PutTile("k", img)

	data, ok, err := m.GetTile("k", imaging.Canonical)
	require.NoError(t, err)
	require.True(t, ok)
	assertPixelEqual(t, img, data)
}

func TestManager_RoundTripFileBackend(t *testing.T) {
	m := NewManager(newFileBackend(t), ManagerOptions{})
	img := tileImage()

	m.PutTile("WebMercatorQuad+3+1+2+roads+default", img)

	data, ok, err := m.GetTile("WebMercatorQuad+3+1+2+roads+default", imaging.PNG)
	require.NoError(t, err)
	require.True(t, ok)
	assertPixelEqual(t, img, data)
}

func TestManager_CanonicalFastPathReturnsStoredBytes(t *testing.T) {
	backend := NewMemoryBackend(4)
	m := NewManager(backend, ManagerOptions{})
	m.PutTile("k", tileImage())

	stored, err := backend.Read("k")
	require.NoError(t, err)

	data, ok, err := m.GetTile("k", imaging.Canonical)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, stored, data)
}

func TestManager_ConvertsToRequestedFormat(t *testing.T) {
	m := NewManager(NewMemoryBackend(4), ManagerOptions{})
	m.PutTile("k", tileImage())

	data, ok, err := m.GetTile("k", imaging.JPEG)
	require.NoError(t, err)
	require.True(t, ok)

	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
}

func TestManager_Miss(t *testing.T) {
	m := NewManager(NewMemoryBackend(4), ManagerOptions{})

	data, ok, err := m.GetTile("nothing", imaging.PNG)
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)
}

func TestManager_UnsupportedFormat(t *testing.T) {
	spy := newSpy()
	m := NewManager(spy, ManagerOptions{})
	m.PutTile("k", tileImage())

	_, ok, err := m.GetTile("k", imaging.WebP)
	assert.False(t, ok)
	assert.ErrorIs(t, err, imaging.ErrUnsupportedFormat)

	// the entry is fine and must survive
	_, _, removes := spy.calls()
	assert.Equal(t, 0, removes)
	_, ok, _ = m.GetTile("k", imaging.PNG)
	assert.True(t, ok)
}

func TestManager_CorruptEntryIsEvicted(t *testing.T) {
	spy := newSpy()
	require.NoError(t, spy.inner.Write("k", []byte("not an image")))
	m := NewManager(spy, ManagerOptions{})

	_, ok, err := m.GetTile("k", imaging.JPEG)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, removes := spy.calls()
	assert.Equal(t, 1, removes)
	_, err = spy.inner.Read("k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestManager_ReadFaultIsMissAndEvicts(t *testing.T) {
	spy := newSpy()
	require.NoError(t, spy.inner.Write("k", []byte("x")))
	spy.readErr = errors.New("disk on fire")
	m := NewManager(spy, ManagerOptions{})

	_, ok, err := m.GetTile("k", imaging.PNG)
	assert.NoError(t, err)
	assert.False(t, ok)

	_, _, removes := spy.calls()
	assert.Equal(t, 1, removes)
}

func TestManager_WriteFailureIsAbsorbed(t *testing.T) {
	spy := newSpy()
	spy.writeErr = errors.New("disk full")
	m := NewManager(spy, ManagerOptions{})

	assert.NotPanics(t, func() { m.PutTile("k", tileImage()) })

	_, writes, _ := spy.calls()
	assert.Equal(t, 1, writes)
	_, ok, _ := m.GetTile("k", imaging.PNG)
	assert.False(t, ok)
}

type failingEncoder struct{}

func (failingEncoder) Encode(io.Writer, image.Image) error {
	return errors.New("encoder broke")
}

func TestManager_EncodeFailureSkipsWrite(t *testing.T) {
	codecs := imaging.NewRegistry()
	codecs.Register(imaging.Canonical, failingEncoder{})
	spy := newSpy()
	m := NewManager(spy, ManagerOptions{Codecs: codecs})

	m.PutTile("k", tileImage())

	_, writes, _ := spy.calls()
	assert.Equal(t, 0, writes)
}

func TestManager_BypassNeverTouchesBackend(t *testing.T) {
	spy := newSpy()
	m := NewManager(spy, ManagerOptions{Bypass: true})
	require.True(t, m.Bypassed())

	m.PutTile("k", tileImage())
	data, ok, err := m.GetTile("k", imaging.PNG)

	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, data)

	reads, writes, removes := spy.calls()
	assert.Zero(t, reads)
	assert.Zero(t, writes)
	assert.Zero(t, removes)
}

func TestManager_RemoveIsIdempotent(t *testing.T) {
	m := NewManager(NewMemoryBackend(4), ManagerOptions{})
	m.PutTile("k", tileImage())

	require.NoError(t, m.Remove("k"))
	require.NoError(t, m.Remove("k"))

	_, ok, _ := m.GetTile("k", imaging.PNG)
	assert.False(t, ok)
}

func TestManager_Concurrent(t *testing.T) {
	m := NewManager(NewMemoryBackend(4), ManagerOptions{})
	img := tileImage()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := []string{"a", "b", "c", "d", "e"}[i%5]
			m.PutTile(key, img)
			if data, ok, err := m.GetTile(key, imaging.Canonical); ok {
				assert.NoError(t, err)
				_, err := png.DecodeConfig(bytes.NewReader(data))
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()
}
