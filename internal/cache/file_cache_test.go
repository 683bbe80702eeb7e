package cache

import (
	"bytes"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileBackend(t *testing.T) *FileBackend {
	t.Helper()
	c, err := NewFileBackend(filepath.Join(t.TempDir(), "tiles"))
	require.NoError(t, err)
	return c
}

func TestFileBackend_ReadWrite(t *testing.T) {
	c := newFileBackend(t)

	_, err := c.Read("set+0+0+0+l+s")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, c.Write("set+0+0+0+l+s", []byte("png bytes")))

	got, err := c.Read("set+0+0+0+l+s")
	require.NoError(t, err)
	assert.Equal(t, []byte("png bytes"), got)
}

func TestFileBackend_SkipIfExists(t *testing.T) {
	c := newFileBackend(t)

	require.NoError(t, c.Write("k", []byte("first")))
	require.NoError(t, c.Write("k", []byte("second")))

	got, err := c.Read("k")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), got)
}

func TestFileBackend_ConcurrentWritesNeverMix(t *testing.T) {
	c := newFileBackend(t)

	a := bytes.Repeat([]byte{'a'}, 256*1024)
	b := bytes.Repeat([]byte{'b'}, 256*1024)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() { defer wg.Done(); assert.NoError(t, c.Write("same", a)) }()
		go func() { defer wg.Done(); assert.NoError(t, c.Write("same", b)) }()
	}
	wg.Wait()

	got, err := c.Read("same")
	require.NoError(t, err)
	assert.True(t, bytes.Equal(got, a) || bytes.Equal(got, b), "file content is a mix of both writers")
}

func TestFileBackend_WriteKeepsKeysThatLookLikeTempFiles(t *testing.T) {
	c := newFileBackend(t)

	// find a key whose ".tmp" sibling lands in the same shard
	var key string
	for i := 0; key == ""; i++ {
		candidate := "k" + strconv.Itoa(i)
		plain, err := c.buildFilePath(candidate)
		require.NoError(t, err)
		tmp, err := c.buildFilePath(candidate + ".tmp")
		require.NoError(t, err)
		if filepath.Dir(plain) == filepath.Dir(tmp) {
			key = candidate
		}
	}

	require.NoError(t, c.Write(key+".tmp", []byte("stored")))
	require.NoError(t, c.Write(key, []byte("tile")))

	got, err := c.Read(key + ".tmp")
	require.NoError(t, err)
	assert.Equal(t, []byte("stored"), got)

	got, err = c.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("tile"), got)

	path, err := c.buildFilePath(key)
	require.NoError(t, err)
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".tile-"), "temp file left behind: %s", e.Name())
	}
}

func TestFileBackend_Remove(t *testing.T) {
	c := newFileBackend(t)
	require.NoError(t, c.Write("k", []byte("x")))

	require.NoError(t, c.Remove("k"))
	require.NoError(t, c.Remove("k"))

	_, err := c.Read("k")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileBackend_RejectsPathKeys(t *testing.T) {
	c := newFileBackend(t)

	for _, key := range []string{"", ".", "..", "a/b", `a\b`, "../escape"} {
		assert.ErrorIs(t, c.Write(key, []byte("x")), ErrInvalidKey, key)
		_, err := c.Read(key)
		assert.ErrorIs(t, err, ErrInvalidKey, key)
	}
}

func TestFileBackend_LongKeysAreHashed(t *testing.T) {
	c := newFileBackend(t)
	key := strings.Repeat("k", 1000)

	require.NoError(t, c.Write(key, []byte("long")))
	got, err := c.Read(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("long"), got)

	path, err := c.buildFilePath(key)
	require.NoError(t, err)
	assert.Len(t, filepath.Base(path), 64)
}

func TestFileBackend_PurgeRemovesOnlyExpiredFiles(t *testing.T) {
	c := newFileBackend(t)
	ttl := time.Hour

	require.NoError(t, c.Write("old", []byte("old")))
	require.NoError(t, c.Write("fresh", []byte("fresh")))

	oldPath, err := c.buildFilePath("old")
	require.NoError(t, err)
	past := time.Now().Add(-2 * ttl)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	removed, err := c.Purge(ttl)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = c.Read("old")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = c.Read("fresh")
	assert.NoError(t, err)

	// shard directories stay
	info, err := os.Stat(filepath.Dir(oldPath))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestFileBackend_PurgeWalksNestedDirectories(t *testing.T) {
	c := newFileBackend(t)

	nested := filepath.Join(c.Dir(), "legacy", "deeper")
	require.NoError(t, os.MkdirAll(nested, 0755))
	stale := filepath.Join(nested, "leftover.tmp")
	require.NoError(t, os.WriteFile(stale, []byte("x"), 0644))
	past := time.Now().Add(-48 * time.Hour)
	require.NoError(t, os.Chtimes(stale, past, past))

	removed, err := c.Purge(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = os.Stat(stale)
	assert.ErrorIs(t, err, fs.ErrNotExist)
	_, err = os.Stat(nested)
	assert.NoError(t, err)
}

func TestFileBackend_PurgeUsesClock(t *testing.T) {
	c := newFileBackend(t)
	require.NoError(t, c.Write("k", []byte("x")))

	c.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	removed, err := c.Purge(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
}
