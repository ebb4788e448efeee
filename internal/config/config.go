// Package config loads the engine configuration from YAML with environment
// overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration.
type Config struct {
	Logging   LoggingConfig   `yaml:"logging"`
	Cache     CacheConfig     `yaml:"cache"`
	Bus       BusConfig       `yaml:"bus"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level         string            `yaml:"level"`
	Format        string            `yaml:"format"`
	IncludeCaller bool              `yaml:"include_caller"`
	IncludeTrace  bool              `yaml:"include_trace"`
	GlobalFields  map[string]string `yaml:"global_fields"`
}

// CacheConfig contains cache layer settings.
type CacheConfig struct {
	// Store backend: "ttl" or "lru".
	Backend string `yaml:"backend"`

	// Entry time-to-live in milliseconds.
	TTLMs int `yaml:"ttl_ms"`

	// Maximum entry count for the lru backend.
	MaxEntries int `yaml:"max_entries"`

	// Active eviction sweep interval in milliseconds; 0 disables sweeping
	// and staleness is checked only at read time.
	SweepIntervalMs int `yaml:"sweep_interval_ms"`
}

// BusConfig contains notification bus settings.
type BusConfig struct {
	ChannelBuffer int `yaml:"channel_buffer"`
}

// MetricsConfig contains metrics settings.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// TelemetryConfig contains OpenTelemetry settings.
type TelemetryConfig struct {
	Enabled       bool              `yaml:"enabled"`
	ServiceName   string            `yaml:"service_name"`
	Endpoint      string            `yaml:"endpoint"`
	SamplingRatio float64           `yaml:"sampling_ratio"`
	Attributes    map[string]string `yaml:"attributes"`
}

// Default returns a configuration with sensible defaults.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:         "info",
			Format:        "json",
			IncludeCaller: true,
			IncludeTrace:  true,
			GlobalFields:  map[string]string{},
		},
		Cache: CacheConfig{
			Backend:         "ttl",
			TTLMs:           30000,
			MaxEntries:      10000,
			SweepIntervalMs: 60000,
		},
		Bus: BusConfig{
			ChannelBuffer: 100,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "loom",
		},
		Telemetry: TelemetryConfig{
			Enabled:       false,
			ServiceName:   "loom",
			Endpoint:      "localhost:4317",
			SamplingRatio: 0.1,
			Attributes:    map[string]string{},
		},
	}
}

// Load loads configuration from a YAML file, starting from defaults and
// finishing with environment overrides. A missing file is not an error;
// defaults are used.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file: %w", err)
			}
			log.Warn().Str("file", path).Msg("Configuration file not found, using defaults")
		} else if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// applyEnvOverrides applies LOOM_* environment variables over the loaded
// configuration.
func applyEnvOverrides(config *Config) {
	if level := os.Getenv("LOOM_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if format := os.Getenv("LOOM_LOG_FORMAT"); format != "" {
		config.Logging.Format = format
	}
	if backend := os.Getenv("LOOM_CACHE_BACKEND"); backend != "" {
		config.Cache.Backend = backend
	}
	if ttlStr := os.Getenv("LOOM_CACHE_TTL_MS"); ttlStr != "" {
		if ttl, err := strconv.Atoi(ttlStr); err == nil {
			config.Cache.TTLMs = ttl
		}
	}
	if maxStr := os.Getenv("LOOM_CACHE_MAX_ENTRIES"); maxStr != "" {
		if max, err := strconv.Atoi(maxStr); err == nil {
			config.Cache.MaxEntries = max
		}
	}
	if bufStr := os.Getenv("LOOM_BUS_CHANNEL_BUFFER"); bufStr != "" {
		if buf, err := strconv.Atoi(bufStr); err == nil {
			config.Bus.ChannelBuffer = buf
		}
	}
	if endpoint := os.Getenv("LOOM_TELEMETRY_ENDPOINT"); endpoint != "" {
		config.Telemetry.Endpoint = endpoint
	}
}

// Validate checks the configuration for values the engine cannot run with.
func (c *Config) Validate() error {
	switch c.Cache.Backend {
	case "ttl", "lru":
	default:
		return fmt.Errorf("unsupported cache backend: %q", c.Cache.Backend)
	}
	if c.Cache.TTLMs <= 0 {
		return fmt.Errorf("cache ttl_ms must be positive, got %d", c.Cache.TTLMs)
	}
	if c.Cache.Backend == "lru" && c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max_entries must be positive for the lru backend, got %d", c.Cache.MaxEntries)
	}
	if c.Bus.ChannelBuffer < 0 {
		return fmt.Errorf("bus channel_buffer must not be negative, got %d", c.Bus.ChannelBuffer)
	}
	return nil
}
