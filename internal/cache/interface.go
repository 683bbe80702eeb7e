// Package cache stores encoded tiles and mediates format conversion.
//
// A Backend only moves canonical bytes in and out of some storage. The
// Manager sits on top of any backend and owns format negotiation, the global
// bypass switch and the rule that a broken cache degrades to a miss.
package cache

import (
	"errors"
	"time"
)

// ErrNotFound is returned by Backend.Read when the key is not stored.
var ErrNotFound = errors.New("tile not cached")

// ErrInvalidKey is returned for keys a backend cannot store.
var ErrInvalidKey = errors.New("invalid cache key")

// Backend stores canonical tile bytes by key. Implementations must be safe
// for concurrent use. Bytes returned by Read belong to the caller.
type Backend interface {
	// Name identifies the backend in logs and metrics.
	Name() string
	// Read returns ErrNotFound on a miss; any other error is a fault.
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	// Remove is idempotent: removing a missing key is not an error.
	Remove(key string) error
}

// Purger is implemented by backends that expire entries by age.
type Purger interface {
	// Purge deletes entries older than ttl and returns how many were removed.
	Purge(ttl time.Duration) (int, error)
}
