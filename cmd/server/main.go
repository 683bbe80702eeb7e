package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"github.com/thejerf/suture/v4"
	"go.uber.org/zap"

	"wmtscache/internal/cache"
	"wmtscache/internal/config"
	httphandlers "wmtscache/internal/http"
	"wmtscache/internal/imaging"
	"wmtscache/internal/imaging/vipscodec"
	"wmtscache/internal/logger"
	"wmtscache/internal/render"
	"wmtscache/internal/tilematrix"
	"wmtscache/internal/tiles"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogEncoding)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.VipsConcurrency,
		MaxCacheMem:      cfg.VipsMaxCacheMB * 1024 * 1024, // Convert MB to bytes
		MaxCacheFiles:    0,                                // Disable disk cache
		MaxCacheSize:     0,                                // Disable disk cache
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	// Set up logging
	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		// Map vips log levels to zap levels
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
		// Ignore info/debug messages to keep logs clean
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)
	defer vips.Shutdown()

	// WebP and JPEG go through libvips, the rest through Go encoders
	codecs := imaging.NewRegistry()
	vipscodec.Register(codecs, imaging.JPEGQuality)

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.VipsMaxCacheMB),
		zap.Int("concurrency", cfg.VipsConcurrency),
		zap.Int("formats", len(codecs.Formats())),
	)

	registry := tilematrix.NewDefaultRegistry()
	if cfg.MatrixSetsFile != "" {
		sets, err := tilematrix.LoadDefinitions(cfg.MatrixSetsFile)
		if err != nil {
			log.Fatal("Failed to load matrix sets", zap.String("path", cfg.MatrixSetsFile), zap.Error(err))
		}
		if err := registry.RegisterAll(sets); err != nil {
			log.Fatal("Failed to register matrix sets", zap.String("path", cfg.MatrixSetsFile), zap.Error(err))
		}
	}
	log.Info("Tile matrix sets registered", zap.Strings("ids", registry.IDs()))

	backend, err := cache.NewBackend(cache.BackendConfig{
		Type:        cfg.CacheType,
		MemoryTiles: cfg.CacheMemoryTiles,
		FileDir:     cfg.CacheFileDir,
		BoltPath:    cfg.CacheBoltPath,
	}, log)
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}
	if closer, ok := backend.(io.Closer); ok {
		defer closer.Close()
	}

	tileCache := cache.NewManager(backend, cache.ManagerOptions{
		Bypass: cfg.CacheBypass,
		Codecs: codecs,
		Logger: log,
	})

	tileService := tiles.New(registry, tileCache, render.Debug{}, log, tiles.Options{
		RenderTimeout: cfg.RenderTimeoutDuration(),
	})

	handlers := httphandlers.New(cfg.AllowedOrigin, log, tileService, registry)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handlers.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	supervisor := suture.New("wmtscache", suture.Spec{
		EventHook: supervisorEventHook(log),
		Timeout:   10 * time.Second,
	})
	supervisor.Add(httphandlers.NewServer(server, 5*time.Second))

	if purging, ok := backend.(cache.PurgingBackend); ok && !cfg.CacheBypass {
		supervisor.Add(cache.NewSweeper(purging, cfg.FileTTL(), cfg.SweepInterval(), log))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Info("Starting WMTS tile server",
		zap.Int("port", cfg.Port),
		zap.String("cache", backend.Name()),
		zap.Bool("bypass", cfg.CacheBypass),
	)

	if err := supervisor.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("Supervisor stopped", zap.Error(err))
	}

	log.Info("Server stopped")
}

func supervisorEventHook(log *zap.Logger) suture.EventHook {
	return func(e suture.Event) {
		fields := make([]zap.Field, 0, len(e.Map()))
		for k, v := range e.Map() {
			fields = append(fields, zap.Any(k, v))
		}
		log.Warn(e.String(), fields...)
	}
}
