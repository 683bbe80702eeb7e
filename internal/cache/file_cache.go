package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash/fnv"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// DefaultFileTTL is the age after which Purge removes a tile file.
const DefaultFileTTL = time.Hour

// Longer keys are stored under their SHA-256 so every name fits common
// filesystem limits.
const maxFileNameLen = 200

// FileBackend stores one file per key below a root directory.
// Structure: {cacheDir}/{fnv32(key) % 256 as hex}/{key}
//
// Keys are case sensitive but file names may not be: on a case-insensitive
// filesystem keys differing only in letter case share one file.
//
// One RWMutex covers the whole directory: reads share it, writes and deletes
// hold it exclusively. The age of an entry is its file modification time.
type FileBackend struct {
	mu       sync.RWMutex
	cacheDir string
	now      func() time.Time
}

func NewFileBackend(cacheDir string) (*FileBackend, error) {
	if err := os.MkdirAll(cacheDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}

	return &FileBackend{
		cacheDir: cacheDir,
		now:      time.Now,
	}, nil
}

func (c *FileBackend) Name() string {
	return "file"
}

// Dir returns the cache root.
func (c *FileBackend) Dir() string {
	return c.cacheDir
}

func (c *FileBackend) buildFilePath(key string) (string, error) {
	if key == "" || key == "." || key == ".." || strings.ContainsAny(key, "/\\\x00") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}

	h := fnv.New32a()
	h.Write([]byte(key))
	shard := fmt.Sprintf("%02x", h.Sum32()%256)

	name := key
	if len(name) > maxFileNameLen {
		sum := sha256.Sum256([]byte(key))
		name = hex.EncodeToString(sum[:])
	}

	return filepath.Join(c.cacheDir, shard, name), nil
}

func (c *FileBackend) Read(key string) ([]byte, error) {
	filePath, err := c.buildFilePath(key)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to read tile file: %w", err)
	}

	return data, nil
}

// Write stores data unless the key already exists; the first writer wins.
func (c *FileBackend) Write(key string, data []byte) error {
	filePath, err := c.buildFilePath(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := os.Stat(filePath); err == nil {
		return nil
	}

	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create shard directory: %w", err)
	}

	// Write atomically. CreateTemp never reuses the name of a stored key.
	tmp, err := os.CreateTemp(filepath.Dir(filePath), ".tile-*")
	if err != nil {
		return fmt.Errorf("failed to create temp tile file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write tile file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write tile file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write tile file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to rename tile file: %w", err)
	}

	return nil
}

func (c *FileBackend) Remove(key string) error {
	filePath, err := c.buildFilePath(key)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	return removeFile(filePath)
}

// Purge walks the cache directory and deletes every file whose modification
// time is older than ttl. Directories are left in place.
func (c *FileBackend) Purge(ttl time.Duration) (int, error) {
	var (
		removed int
		errs    []error
	)

	walkErr := filepath.WalkDir(c.cacheDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			errs = append(errs, err)
			return nil
		}
		if d.IsDir() {
			return nil
		}

		ok, err := c.removeIfExpired(path, ttl)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			removed++
		}
		return nil
	})
	if walkErr != nil {
		errs = append(errs, walkErr)
	}

	return removed, errors.Join(errs...)
}

// removeIfExpired re-checks the file under the write lock so a concurrent
// Write of the same key is never deleted half way.
func (c *FileBackend) removeIfExpired(path string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}

	if c.now().Sub(info.ModTime()) <= ttl {
		return false, nil
	}

	if err := removeFile(path); err != nil {
		return false, err
	}
	return true, nil
}

func removeFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove tile file: %w", err)
	}
	return nil
}
