package cache

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_Sweep(t *testing.T) {
	c := newFileBackend(t)
	require.NoError(t, c.Write("old", []byte("x")))
	require.NoError(t, c.Write("fresh", []byte("y")))

	path, err := c.buildFilePath("old")
	require.NoError(t, err)
	past := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(path, past, past))

	s := NewSweeper(c, time.Hour, time.Minute, nil)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 0, s.Sweep())
	assert.Equal(t, "cache-sweeper-file", s.String())
}

func TestSweeper_ServeStopsOnCancel(t *testing.T) {
	c := newFileBackend(t)
	require.NoError(t, c.Write("k", []byte("x")))
	c.now = func() time.Time { return time.Now().Add(10 * time.Hour) }

	s := NewSweeper(c, time.Hour, 10*time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx) }()

	require.Eventually(t, func() bool {
		_, err := c.Read("k")
		return errors.Is(err, ErrNotFound)
	}, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
