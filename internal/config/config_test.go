package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "memory", cfg.CacheType)
	assert.Equal(t, 64, cfg.CacheMemoryTiles)
	assert.False(t, cfg.CacheBypass)
	assert.Equal(t, time.Hour, cfg.FileTTL())
	assert.Equal(t, 5*time.Minute, cfg.SweepInterval())
	assert.Equal(t, 10*time.Second, cfg.RenderTimeoutDuration())
	assert.Equal(t, filepath.Join(os.TempDir(), "wmts-tile-cache"), cfg.CacheFileDir)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "")
	t.Setenv("PORT", "9090")
	t.Setenv("CACHE", "file")
	t.Setenv("CACHE_BYPASS", "true")
	t.Setenv("CACHE_FILE_TTL", "60")
	t.Setenv("LOG_ENCODING", "console")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "file", cfg.CacheType)
	assert.True(t, cfg.CacheBypass)
	assert.Equal(t, time.Minute, cfg.FileTTL())
	assert.Equal(t, "console", cfg.LogEncoding)
}

func TestLoad_FileThenEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: bolt\ncache_bolt_path: /var/lib/tiles.bolt\nport: 7000\n"), 0644))
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("PORT", "7001")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "bolt", cfg.CacheType)
	assert.Equal(t, "/var/lib/tiles.bolt", cfg.CacheBoltPath)
	assert.Equal(t, 7001, cfg.Port)
}

func TestLoad_RejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"CACHE":              "redis",
		"LOG_LEVEL":          "verbose",
		"CACHE_MEMORY_TILES": "0",
		"PORT":               "70000",
	}

	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv(ConfigPathEnvVar, "")
			t.Setenv(name, value)

			_, err := Load()
			assert.Error(t, err)
		})
	}
}
