package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ConfigPathEnvVar names the variable pointing at an optional YAML file.
const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultConfigPaths = []string{"config.yaml", "config.yml"}

// Config keys match the lowercased environment variable names, so CACHE_FILE_TTL
// and cache_file_ttl in YAML set the same field. Durations are in seconds.
type Config struct {
	Port               int    `koanf:"port" validate:"min=1,max=65535"`
	LogLevel           string `koanf:"log_level" validate:"oneof=debug info warn error"`
	LogEncoding        string `koanf:"log_encoding" validate:"oneof=json console"`
	CacheType          string `koanf:"cache" validate:"oneof=memory file bolt disabled"`
	CacheBypass        bool   `koanf:"cache_bypass"`
	CacheMemoryTiles   int    `koanf:"cache_memory_tiles" validate:"gt=0"`
	CacheFileDir       string `koanf:"cache_file_dir" validate:"required_if=CacheType file"`
	CacheFileTTL       int    `koanf:"cache_file_ttl" validate:"gt=0"`
	CacheSweepInterval int    `koanf:"cache_sweep_interval" validate:"gt=0"`
	CacheBoltPath      string `koanf:"cache_bolt_path" validate:"required_if=CacheType bolt"`
	MatrixSetsFile     string `koanf:"matrix_sets_file"`
	VipsMaxCacheMB     int    `koanf:"vips_max_cache_mb" validate:"gte=0"`
	VipsConcurrency    int    `koanf:"vips_concurrency" validate:"gte=0"`
	AllowedOrigin      string `koanf:"allowed_origin"`
	RenderTimeout      int    `koanf:"render_timeout" validate:"gt=0"`
}

func defaultConfig() Config {
	tmp := os.TempDir()
	return Config{
		Port:               8080,
		LogLevel:           "info",
		LogEncoding:        "json",
		CacheType:          "memory",
		CacheMemoryTiles:   64,
		CacheFileDir:       filepath.Join(tmp, "wmts-tile-cache"),
		CacheFileTTL:       3600,
		CacheSweepInterval: 300,
		CacheBoltPath:      filepath.Join(tmp, "wmts-tile-cache.bolt"),
		VipsMaxCacheMB:     64,
		VipsConcurrency:    1,
		RenderTimeout:      10,
	}
}

// Load layers built-in defaults, an optional YAML file and the environment,
// later sources winning, and validates the result.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path := findConfigFile(); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", strings.ToLower), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile() string {
	if path := os.Getenv(ConfigPathEnvVar); path != "" {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

func (c *Config) FileTTL() time.Duration {
	return time.Duration(c.CacheFileTTL) * time.Second
}

func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.CacheSweepInterval) * time.Second
}

func (c *Config) RenderTimeoutDuration() time.Duration {
	return time.Duration(c.RenderTimeout) * time.Second
}
