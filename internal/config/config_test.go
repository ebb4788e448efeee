package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDefault verifies defaults pass validation.
func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "ttl", cfg.Cache.Backend)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Positive(t, cfg.Cache.TTLMs)
}

// TestLoadMissingFile verifies a missing file falls back to defaults.
func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

// TestLoadFromFile verifies YAML values override defaults while untouched
// sections keep theirs.
func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
logging:
  level: debug
  format: console
cache:
  backend: lru
  ttl_ms: 250
  max_entries: 64
bus:
  channel_buffer: 7
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, "lru", cfg.Cache.Backend)
	assert.Equal(t, 250, cfg.Cache.TTLMs)
	assert.Equal(t, 64, cfg.Cache.MaxEntries)
	assert.Equal(t, 7, cfg.Bus.ChannelBuffer)
	assert.Equal(t, "loom", cfg.Metrics.Namespace, "untouched section keeps its default")
}

// TestLoadInvalidYAML verifies a malformed file is an error.
func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("cache: ["), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

// TestEnvOverrides verifies LOOM_* variables win over file values.
func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOOM_LOG_LEVEL", "warn")
	t.Setenv("LOOM_CACHE_BACKEND", "lru")
	t.Setenv("LOOM_CACHE_TTL_MS", "123")
	t.Setenv("LOOM_BUS_CHANNEL_BUFFER", "11")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "lru", cfg.Cache.Backend)
	assert.Equal(t, 123, cfg.Cache.TTLMs)
	assert.Equal(t, 11, cfg.Bus.ChannelBuffer)
}

// TestValidate covers the rejection paths.
func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Cache.Backend = "redis"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Cache.TTLMs = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Cache.Backend = "lru"
	cfg.Cache.MaxEntries = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Bus.ChannelBuffer = -1
	assert.Error(t, cfg.Validate())
}
