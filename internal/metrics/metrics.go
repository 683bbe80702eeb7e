// Package metrics holds the Prometheus instruments of the tile cache. All
// instruments are registered with the default registry on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TileCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmts_tile_cache_hits_total",
			Help: "Total number of tile cache hits",
		},
		[]string{"backend"},
	)

	TileCacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmts_tile_cache_misses_total",
			Help: "Total number of tile cache misses, including bypassed lookups",
		},
		[]string{"backend"},
	)

	// Entries that failed to read or decode and were removed.
	TileCacheCorrupt = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmts_tile_cache_corrupt_total",
			Help: "Total number of cache entries dropped because they could not be read or decoded",
		},
		[]string{"backend"},
	)

	TileCacheWriteDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmts_tile_cache_write_dropped_total",
			Help: "Total number of tile writes dropped after an encode or backend failure",
		},
		[]string{"backend", "reason"}, // "encoder", "encode", "backend"
	)

	TileCacheEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wmts_tile_cache_evictions_total",
			Help: "Total number of least-recently-used evictions from the memory backend",
		},
	)

	TileCachePurged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmts_tile_cache_purged_total",
			Help: "Total number of expired entries removed by the sweeper",
		},
		[]string{"backend"},
	)

	TileCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wmts_tile_cache_memory_entries",
			Help: "Current number of entries in the memory backend",
		},
	)

	TileRenderDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "wmts_tile_render_duration_seconds",
			Help:    "Duration of tile renders on cache miss",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"matrix_set"},
	)

	TileRenderErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wmts_tile_render_errors_total",
			Help: "Total number of failed tile renders",
		},
		[]string{"matrix_set"},
	)
)
