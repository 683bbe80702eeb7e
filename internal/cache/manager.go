package cache

import (
	"bytes"
	"errors"
	"image"

	"go.uber.org/zap"

	"wmtscache/internal/imaging"
	"wmtscache/internal/metrics"
)

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Bypass disables reads and writes entirely.
	Bypass bool
	// Codecs converts between formats; nil means imaging.NewRegistry().
	Codecs *imaging.Registry
	Logger *zap.Logger
}

// Manager is the tile cache seen by request handlers. Tiles are always stored
// as imaging.Canonical. Cache faults never reach the caller: a failed read is
// a miss and a failed write is dropped.
type Manager struct {
	backend Backend
	codecs  *imaging.Registry
	bypass  bool
	logger  *zap.Logger
}

func NewManager(backend Backend, opts ManagerOptions) *Manager {
	if opts.Codecs == nil {
		opts.Codecs = imaging.NewRegistry()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return &Manager{
		backend: backend,
		codecs:  opts.Codecs,
		bypass:  opts.Bypass,
		logger:  opts.Logger.With(zap.String("backend", backend.Name())),
	}
}

// Bypassed reports whether the cache is switched off.
func (m *Manager) Bypassed() bool {
	return m.bypass
}

// Codecs returns the format registry used for conversion.
func (m *Manager) Codecs() *imaging.Registry {
	return m.codecs
}

// GetTile returns the tile stored under key encoded as format. The boolean is
// false on a miss. The only error returned wraps imaging.ErrUnsupportedFormat,
// which means the request asked for a format nothing can produce.
func (m *Manager) GetTile(key string, format imaging.Format) ([]byte, bool, error) {
	name := m.backend.Name()

	if m.bypass {
		metrics.TileCacheMisses.WithLabelValues(name).Inc()
		return nil, false, nil
	}

	data, err := m.backend.Read(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("Cache read failed, evicting entry", zap.String("key", key), zap.Error(err))
			m.discard(key)
		}
		metrics.TileCacheMisses.WithLabelValues(name).Inc()
		return nil, false, nil
	}

	if format == imaging.Canonical {
		metrics.TileCacheHits.WithLabelValues(name).Inc()
		m.logger.Debug("Cache hit", zap.String("key", key))
		return data, true, nil
	}

	// Conversion runs outside any backend lock.
	out, err := m.codecs.Convert(data, format)
	if err != nil {
		if errors.Is(err, imaging.ErrUnsupportedFormat) {
			return nil, false, err
		}
		m.logger.Warn("Cached tile could not be converted, evicting entry",
			zap.String("key", key), zap.String("format", string(format)), zap.Error(err))
		m.discard(key)
		metrics.TileCacheMisses.WithLabelValues(name).Inc()
		return nil, false, nil
	}

	metrics.TileCacheHits.WithLabelValues(name).Inc()
	m.logger.Debug("Cache hit", zap.String("key", key), zap.String("format", string(format)))
	return out, true, nil
}

// PutTile encodes img as the canonical format and stores it. Failures are
// logged and the write is dropped.
func (m *Manager) PutTile(key string, img image.Image) {
	if m.bypass {
		return
	}

	name := m.backend.Name()

	encoder, ok := m.codecs.Encoder(imaging.Canonical)
	if !ok {
		m.logger.Error("No encoder for canonical format, tile not cached",
			zap.String("key", key), zap.String("format", string(imaging.Canonical)))
		metrics.TileCacheWriteDropped.WithLabelValues(name, "encoder").Inc()
		return
	}

	var buf bytes.Buffer
	if err := encoder.Encode(&buf, img); err != nil {
		m.logger.Warn("Failed to encode tile, not cached", zap.String("key", key), zap.Error(err))
		metrics.TileCacheWriteDropped.WithLabelValues(name, "encode").Inc()
		return
	}

	if err := m.backend.Write(key, buf.Bytes()); err != nil {
		m.logger.Warn("Failed to write tile to cache", zap.String("key", key), zap.Error(err))
		metrics.TileCacheWriteDropped.WithLabelValues(name, "backend").Inc()
	}
}

// Remove deletes key. Removing a missing key is not an error.
func (m *Manager) Remove(key string) error {
	return m.backend.Remove(key)
}

func (m *Manager) discard(key string) {
	metrics.TileCacheCorrupt.WithLabelValues(m.backend.Name()).Inc()
	if err := m.backend.Remove(key); err != nil {
		m.logger.Warn("Failed to evict cache entry", zap.String("key", key), zap.Error(err))
	}
}
