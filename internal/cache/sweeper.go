package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"wmtscache/internal/metrics"
)

// Sweeper periodically purges expired entries. It implements suture.Service.
type Sweeper struct {
	purger   Purger
	name     string
	ttl      time.Duration
	interval time.Duration
	logger   *zap.Logger
}

// PurgingBackend is a Backend that expires entries by age.
type PurgingBackend interface {
	Backend
	Purger
}

func NewSweeper(backend PurgingBackend, ttl, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		purger:   backend,
		name:     backend.Name(),
		ttl:      ttl,
		interval: interval,
		logger:   logger,
	}
}

// Serve sweeps once immediately and then every interval until ctx is done.
func (s *Sweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep runs one purge pass and returns the number of removed entries.
func (s *Sweeper) Sweep() int {
	start := time.Now()
	removed, err := s.purger.Purge(s.ttl)
	if err != nil {
		s.logger.Warn("Cache purge finished with errors", zap.String("backend", s.name), zap.Error(err))
	}
	if removed > 0 {
		metrics.TileCachePurged.WithLabelValues(s.name).Add(float64(removed))
	}

	s.logger.Debug("Cache purge completed",
		zap.String("backend", s.name),
		zap.Int("removed", removed),
		zap.Duration("ttl", s.ttl),
		zap.Duration("took", time.Since(start)),
	)
	return removed
}

func (s *Sweeper) String() string {
	return "cache-sweeper-" + s.name
}
