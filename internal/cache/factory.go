package cache

import (
	"fmt"

	"go.uber.org/zap"
)

// BackendConfig selects and sizes a backend.
type BackendConfig struct {
	Type        string // memory, file, bolt, disabled
	MemoryTiles int
	FileDir     string
	BoltPath    string
}

// NewBackend creates a backend based on the cache type
func NewBackend(cfg BackendConfig, log *zap.Logger) (Backend, error) {
	switch cfg.Type {
	case "memory":
		log.Info("Using memory cache", zap.Int("max_tiles", cfg.MemoryTiles))
		return NewMemoryBackend(cfg.MemoryTiles), nil
	case "file":
		log.Info("Using file cache", zap.String("cache_dir", cfg.FileDir))
		return NewFileBackend(cfg.FileDir)
	case "bolt":
		log.Info("Using bolt cache", zap.String("path", cfg.BoltPath))
		return OpenBoltBackend(cfg.BoltPath)
	case "disabled":
		log.Info("Cache disabled")
		return NewDiscardBackend(), nil
	default:
		return nil, fmt.Errorf("unknown cache type: %s (supported: memory, file, bolt, disabled)", cfg.Type)
	}
}
