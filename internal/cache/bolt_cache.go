package cache

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const boltHeaderLen = 8

var errShortBoltEntry = errors.New("bolt entry shorter than header")

// BoltBackend keeps every tile in a single bbolt file. Each value is laid out
// as 8 bytes big endian write time (unix nanoseconds) followed by the tile.
// Like FileBackend, the first write of a key wins and age drives expiry.
type BoltBackend struct {
	db     *bolt.DB
	bucket []byte
	now    func() time.Time
}

// OpenBoltBackend opens or creates the store at path.
func OpenBoltBackend(path string) (*BoltBackend, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create bolt directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt cache: %w", err)
	}

	bucket := []byte("tiles")
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucket)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create bolt bucket: %w", err)
	}

	return &BoltBackend{db: db, bucket: bucket, now: time.Now}, nil
}

func (c *BoltBackend) Name() string {
	return "bolt"
}

// Close closes the underlying database.
func (c *BoltBackend) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *BoltBackend) Read(key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}

	var out []byte
	err := c.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(c.bucket).Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		if len(v) < boltHeaderLen {
			return errShortBoltEntry
		}
		// v is only valid inside the transaction
		out = bytes.Clone(v[boltHeaderLen:])
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *BoltBackend) Write(key string, data []byte) error {
	if key == "" {
		return fmt.Errorf("%w: empty", ErrInvalidKey)
	}

	buf := make([]byte, boltHeaderLen+len(data))
	binary.BigEndian.PutUint64(buf[:boltHeaderLen], uint64(c.now().UnixNano()))
	copy(buf[boltHeaderLen:], data)

	return c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)
		if b.Get([]byte(key)) != nil {
			return nil
		}
		return b.Put([]byte(key), buf)
	})
}

func (c *BoltBackend) Remove(key string) error {
	if key == "" {
		return nil
	}
	return c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(c.bucket).Delete([]byte(key))
	})
}

// Purge deletes entries written more than ttl ago. Entries too short to
// carry a timestamp are deleted as well.
func (c *BoltBackend) Purge(ttl time.Duration) (int, error) {
	cutoff := c.now().Add(-ttl).UnixNano()
	removed := 0

	err := c.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(c.bucket)

		var expired [][]byte
		if err := b.ForEach(func(k, v []byte) error {
			if len(v) < boltHeaderLen || int64(binary.BigEndian.Uint64(v[:boltHeaderLen])) < cutoff {
				expired = append(expired, bytes.Clone(k))
			}
			return nil
		}); err != nil {
			return err
		}

		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		removed = len(expired)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge bolt cache: %w", err)
	}
	return removed, nil
}
