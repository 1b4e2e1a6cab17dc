package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicstore/pkg/storage"
)

func writeYAML(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nornicstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "./data", cfg.Storage.DataDir)
	assert.Equal(t, storage.DefaultDynamicBlockSize, cfg.Storage.DynamicBlockSize)
	assert.Equal(t, 10000, cfg.Cache.LabelCacheSize)
	assert.Equal(t, 50, cfg.Graph.DenseNodeThreshold)
	assert.True(t, cfg.Graph.UseChainCounts)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("NORNICSTORE_DATA_DIR", "/var/lib/graph")
	t.Setenv("NORNICSTORE_IN_MEMORY", "yes")
	t.Setenv("NORNICSTORE_RESERVED_LOW_IDS", "16")
	t.Setenv("NORNICSTORE_DYNAMIC_BLOCK_SIZE", "60")
	t.Setenv("NORNICSTORE_MAX_CHAIN_STEPS", "5000")
	t.Setenv("NORNICSTORE_LABEL_CACHE_SIZE", "64")
	t.Setenv("NORNICSTORE_DENSE_NODE_THRESHOLD", "8")
	t.Setenv("NORNICSTORE_USE_CHAIN_COUNTS", "0")
	t.Setenv("NORNICSTORE_LOG_FORMAT", "json")

	cfg := LoadFromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/graph", cfg.Storage.DataDir)
	assert.True(t, cfg.Storage.InMemory)
	assert.Equal(t, int64(16), cfg.Storage.ReservedLowIDs)
	assert.Equal(t, 60, cfg.Storage.DynamicBlockSize)
	assert.Equal(t, int64(5000), cfg.Cursors.MaxChainSteps)
	assert.Equal(t, 64, cfg.Cache.LabelCacheSize)
	assert.Equal(t, 8, cfg.Graph.DenseNodeThreshold)
	assert.False(t, cfg.Graph.UseChainCounts)
	assert.Equal(t, "json", cfg.Logging.Format)

	t.Run("unparsable_numbers_keep_defaults", func(t *testing.T) {
		t.Setenv("NORNICSTORE_LABEL_CACHE_SIZE", "lots")
		assert.Equal(t, 10000, LoadFromEnv().Cache.LabelCacheSize)
	})
}

func TestLoadFile(t *testing.T) {
	path := writeYAML(t, `
storage:
  data_dir: /srv/nornic
  sync_writes: true
cursors:
  pool_max_size: 10
graph:
  use_chain_counts: false
memory:
  limit: 512MB
logging:
  level: debug
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/srv/nornic", cfg.Storage.DataDir)
	assert.True(t, cfg.Storage.SyncWrites)
	assert.Equal(t, 10, cfg.Cursors.PoolMaxSize)
	assert.True(t, cfg.Cursors.PoolEnabled, "keys missing from the file keep defaults")
	assert.False(t, cfg.Graph.UseChainCounts)
	assert.Equal(t, int64(512*1024*1024), cfg.Memory.RuntimeLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)

	t.Run("missing_file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.ErrorIs(t, err, os.ErrNotExist)
	})

	t.Run("malformed_file", func(t *testing.T) {
		_, err := LoadFile(writeYAML(t, "storage: [unterminated"))
		assert.Error(t, err)
	})
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeYAML(t, "cache:\n  label_cache_size: 32\ngraph:\n  dense_node_threshold: 4\n")
	t.Setenv("NORNICSTORE_LABEL_CACHE_SIZE", "128")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Cache.LabelCacheSize)
	assert.Equal(t, 4, cfg.Graph.DenseNodeThreshold)

	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, 128, cfg.Cache.LabelCacheSize)
	assert.Equal(t, 50, cfg.Graph.DenseNodeThreshold)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no_data_dir", func(c *Config) { c.Storage.DataDir = "" }},
		{"negative_reserved_ids", func(c *Config) { c.Storage.ReservedLowIDs = -1 }},
		{"zero_block_size", func(c *Config) { c.Storage.DynamicBlockSize = 0 }},
		{"oversized_block", func(c *Config) { c.Storage.DynamicBlockSize = 1 << 16 }},
		{"negative_pool_size", func(c *Config) { c.Cursors.PoolMaxSize = -1 }},
		{"negative_chain_steps", func(c *Config) { c.Cursors.MaxChainSteps = -1 }},
		{"zero_label_cache", func(c *Config) { c.Cache.LabelCacheSize = 0 }},
		{"zero_dense_threshold", func(c *Config) { c.Graph.DenseNodeThreshold = 0 }},
		{"bad_log_level", func(c *Config) { c.Logging.Level = "loud" }},
		{"bad_log_format", func(c *Config) { c.Logging.Format = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}

	t.Run("in_memory_needs_no_dir", func(t *testing.T) {
		cfg := Defaults()
		cfg.Storage.DataDir = ""
		cfg.Storage.InMemory = true
		assert.NoError(t, cfg.Validate())
	})
}

func TestComponentOptions(t *testing.T) {
	cfg := Defaults()
	cfg.Storage.InMemory = true
	cfg.Storage.ReservedLowIDs = 4
	cfg.Cursors.PoolEnabled = false
	cfg.Cursors.MaxChainSteps = 99
	cfg.Graph.DenseNodeThreshold = 7

	bo := cfg.BadgerOptions()
	assert.True(t, bo.InMemory)
	assert.Equal(t, int64(4), bo.ReservedLowIDs)
	assert.Equal(t, storage.DefaultDynamicBlockSize, bo.DynamicBlockSize)

	assert.False(t, cfg.PoolConfig().Enabled)
	assert.Equal(t, 7, cfg.LoaderOptions().DenseNodeThreshold)

	ro := cfg.ReaderOptions()
	assert.Equal(t, int64(99), ro.Dense.MaxChainSteps)
	assert.True(t, ro.Dense.UseChainCounts)
	assert.Nil(t, ro.Locks)
}

func TestConfigString(t *testing.T) {
	cfg := Defaults()
	cfg.Memory.RuntimeLimit = 2 * 1024 * 1024 * 1024
	s := cfg.String()
	assert.Contains(t, s, "Storage: ./data")
	assert.Contains(t, s, "MemLimit: 2.00 GB")

	cfg.Storage.InMemory = true
	assert.Contains(t, cfg.String(), "Storage: memory")
}

func TestLoggingConfig_Apply(t *testing.T) {
	prevLevel, prevFormatter := logrus.GetLevel(), logrus.StandardLogger().Formatter
	t.Cleanup(func() {
		logrus.SetLevel(prevLevel)
		logrus.SetFormatter(prevFormatter)
	})

	require.NoError(t, LoggingConfig{Level: "warn", Format: "json"}.Apply())
	assert.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logrus.StandardLogger().Formatter)

	assert.Error(t, LoggingConfig{Level: "chatty"}.Apply())
}
