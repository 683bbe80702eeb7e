package cache

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewBackend(t *testing.T) {
	dir := t.TempDir()
	log := zap.NewNop()

	cases := map[string]string{
		"memory":   "memory",
		"file":     "file",
		"bolt":     "bolt",
		"disabled": "disabled",
	}
	for typ, name := range cases {
		t.Run(typ, func(t *testing.T) {
			b, err := NewBackend(BackendConfig{
				Type:        typ,
				MemoryTiles: 4,
				FileDir:     filepath.Join(dir, "files"),
				BoltPath:    filepath.Join(dir, typ+".bolt"),
			}, log)
			require.NoError(t, err)
			assert.Equal(t, name, b.Name())
			if closer, ok := b.(io.Closer); ok {
				assert.NoError(t, closer.Close())
			}
		})
	}

	_, err := NewBackend(BackendConfig{Type: "redis"}, log)
	assert.Error(t, err)
}

func TestDiscardBackend(t *testing.T) {
	b := NewDiscardBackend()
	require.NoError(t, b.Write("k", []byte("x")))

	_, err := b.Read("k")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, b.Remove("k"))
}
