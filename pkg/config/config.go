// Package config handles NornicStore configuration.
//
// Configuration starts from built-in defaults, can be overlaid by a YAML file
// with LoadFile, and is finally overlaid by environment variables prefixed
// with NORNICSTORE_. Load does all three in that order, so an environment
// variable always wins over the file.
//
// Example Usage:
//
//	cfg, err := config.Load("nornicstore.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	cfg.Logging.Apply()
//	cfg.Memory.ApplyRuntimeMemory()
//
// Environment Variables:
//
// Storage:
//   - NORNICSTORE_DATA_DIR="./data"
//   - NORNICSTORE_IN_MEMORY=false
//   - NORNICSTORE_SYNC_WRITES=false
//   - NORNICSTORE_RESERVED_LOW_IDS=0
//   - NORNICSTORE_DYNAMIC_BLOCK_SIZE=120
//
// Cursors:
//   - NORNICSTORE_POOL_ENABLED=true
//   - NORNICSTORE_POOL_MAX_SIZE=1000
//   - NORNICSTORE_MAX_CHAIN_STEPS=0
//
// Cache and graph:
//   - NORNICSTORE_LABEL_CACHE_SIZE=10000
//   - NORNICSTORE_DENSE_NODE_THRESHOLD=50
//   - NORNICSTORE_USE_CHAIN_COUNTS=true
//
// Runtime and logging:
//   - NORNICSTORE_MEMORY_LIMIT="2GB"
//   - NORNICSTORE_GC_PERCENT=100
//   - NORNICSTORE_LOG_LEVEL="info"
//   - NORNICSTORE_LOG_FORMAT="text" or "json"
package config

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/orneryd/nornicstore/pkg/dense"
	"github.com/orneryd/nornicstore/pkg/loader"
	"github.com/orneryd/nornicstore/pkg/pool"
	"github.com/orneryd/nornicstore/pkg/reader"
	"github.com/orneryd/nornicstore/pkg/storage"
)

// ErrInvalidConfig wraps every Validate failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds all NornicStore configuration.
type Config struct {
	Storage StorageConfig `yaml:"storage"`
	Cursors CursorConfig  `yaml:"cursors"`
	Cache   CacheConfig   `yaml:"cache"`
	Graph   GraphConfig   `yaml:"graph"`
	Memory  MemoryConfig  `yaml:"memory"`
	Logging LoggingConfig `yaml:"logging"`
}

// StorageConfig holds record store settings.
type StorageConfig struct {
	// DataDir is the Badger directory. Ignored when InMemory is set.
	DataDir string `yaml:"data_dir"`
	// InMemory keeps every record in memory.
	InMemory bool `yaml:"in_memory"`
	// SyncWrites fsyncs after every record write.
	SyncWrites bool `yaml:"sync_writes"`
	// ReservedLowIDs is the first id handed out and the first id a scan visits.
	ReservedLowIDs int64 `yaml:"reserved_low_ids"`
	// DynamicBlockSize is the data capacity of dynamic records.
	DynamicBlockSize int `yaml:"dynamic_block_size"`
}

// CursorConfig holds cursor pooling and chain walk settings.
type CursorConfig struct {
	PoolEnabled bool `yaml:"pool_enabled"`
	PoolMaxSize int  `yaml:"pool_max_size"`
	// MaxChainSteps bounds every chain walk. 0 uses the store size.
	MaxChainSteps int64 `yaml:"max_chain_steps"`
}

// CacheConfig holds read cache settings.
type CacheConfig struct {
	LabelCacheSize int `yaml:"label_cache_size"`
}

// GraphConfig holds graph layout settings.
type GraphConfig struct {
	// DenseNodeThreshold is the degree from which the loader gives a node
	// relationship groups.
	DenseNodeThreshold int `yaml:"dense_node_threshold"`
	// UseChainCounts lets degree queries trust chain lengths stored in
	// relationship records.
	UseChainCounts bool `yaml:"use_chain_counts"`
}

// MemoryConfig holds Go runtime memory settings.
type MemoryConfig struct {
	// RuntimeLimit is the soft memory limit (GOMEMLIMIT) in bytes
	// 0 = unlimited (Go manages automatically)
	RuntimeLimit int64 `yaml:"-"`
	// RuntimeLimitStr is the human-readable form (e.g., "2GB", "512MB")
	RuntimeLimitStr string `yaml:"limit"`
	// GCPercent controls GC aggressiveness (GOGC)
	// 100 = default, lower = more aggressive (less memory, more CPU)
	GCPercent int `yaml:"gc_percent"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (debug, info, warn, error)
	Level string `yaml:"level"`
	// Format (json, text)
	Format string `yaml:"format"`
}

// Defaults returns the built-in configuration.
func Defaults() *Config {
	return &Config{
		Storage: StorageConfig{
			DataDir:          "./data",
			DynamicBlockSize: storage.DefaultDynamicBlockSize,
		},
		Cursors: CursorConfig{
			PoolEnabled: true,
			PoolMaxSize: 1000,
		},
		Cache: CacheConfig{
			LabelCacheSize: reader.DefaultLabelCacheSize,
		},
		Graph: GraphConfig{
			DenseNodeThreshold: loader.DefaultDenseNodeThreshold,
			UseChainCounts:     true,
		},
		Memory: MemoryConfig{
			GCPercent: 100,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// LoadFromEnv returns the defaults overlaid by environment variables.
//
// Example:
//
//	os.Setenv("NORNICSTORE_IN_MEMORY", "true")
//	cfg := config.LoadFromEnv()
//	fmt.Println(cfg.Storage.InMemory) // true
func LoadFromEnv() *Config {
	c := Defaults()
	c.applyEnv()
	return c
}

// LoadFile returns the defaults overlaid by the YAML file at path. Keys
// missing from the file keep their default values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	c := Defaults()
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if c.Memory.RuntimeLimitStr != "" {
		c.Memory.RuntimeLimit = parseMemorySize(c.Memory.RuntimeLimitStr)
	}
	return c, nil
}

// Load reads the YAML file at path, when path is not empty, and then
// applies environment overrides.
func Load(path string) (*Config, error) {
	c := Defaults()
	if path != "" {
		var err error
		if c, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	c.Storage.DataDir = getEnv("NORNICSTORE_DATA_DIR", c.Storage.DataDir)
	c.Storage.InMemory = getEnvBool("NORNICSTORE_IN_MEMORY", c.Storage.InMemory)
	c.Storage.SyncWrites = getEnvBool("NORNICSTORE_SYNC_WRITES", c.Storage.SyncWrites)
	c.Storage.ReservedLowIDs = getEnvInt64("NORNICSTORE_RESERVED_LOW_IDS", c.Storage.ReservedLowIDs)
	c.Storage.DynamicBlockSize = getEnvInt("NORNICSTORE_DYNAMIC_BLOCK_SIZE", c.Storage.DynamicBlockSize)

	c.Cursors.PoolEnabled = getEnvBool("NORNICSTORE_POOL_ENABLED", c.Cursors.PoolEnabled)
	c.Cursors.PoolMaxSize = getEnvInt("NORNICSTORE_POOL_MAX_SIZE", c.Cursors.PoolMaxSize)
	c.Cursors.MaxChainSteps = getEnvInt64("NORNICSTORE_MAX_CHAIN_STEPS", c.Cursors.MaxChainSteps)

	c.Cache.LabelCacheSize = getEnvInt("NORNICSTORE_LABEL_CACHE_SIZE", c.Cache.LabelCacheSize)

	c.Graph.DenseNodeThreshold = getEnvInt("NORNICSTORE_DENSE_NODE_THRESHOLD", c.Graph.DenseNodeThreshold)
	c.Graph.UseChainCounts = getEnvBool("NORNICSTORE_USE_CHAIN_COUNTS", c.Graph.UseChainCounts)

	// Runtime memory: GOMEMLIMIT-style value, "0" or "unlimited" disables
	if v := os.Getenv("NORNICSTORE_MEMORY_LIMIT"); v != "" {
		c.Memory.RuntimeLimitStr = v
		c.Memory.RuntimeLimit = parseMemorySize(v)
	}
	c.Memory.GCPercent = getEnvInt("NORNICSTORE_GC_PERCENT", c.Memory.GCPercent)

	c.Logging.Level = getEnv("NORNICSTORE_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("NORNICSTORE_LOG_FORMAT", c.Logging.Format)
}

// Validate checks the configuration for errors.
//
// Returns nil if configuration is valid, or an error wrapping
// ErrInvalidConfig describing the first problem found.
func (c *Config) Validate() error {
	if !c.Storage.InMemory && c.Storage.DataDir == "" {
		return fmt.Errorf("%w: data directory required unless in-memory", ErrInvalidConfig)
	}
	if c.Storage.ReservedLowIDs < 0 {
		return fmt.Errorf("%w: reserved low ids must not be negative: %d", ErrInvalidConfig, c.Storage.ReservedLowIDs)
	}
	if c.Storage.DynamicBlockSize <= 0 || c.Storage.DynamicBlockSize > 0xFFFF {
		return fmt.Errorf("%w: invalid dynamic block size: %d", ErrInvalidConfig, c.Storage.DynamicBlockSize)
	}
	if c.Cursors.PoolMaxSize < 0 {
		return fmt.Errorf("%w: invalid pool max size: %d", ErrInvalidConfig, c.Cursors.PoolMaxSize)
	}
	if c.Cursors.MaxChainSteps < 0 {
		return fmt.Errorf("%w: invalid max chain steps: %d", ErrInvalidConfig, c.Cursors.MaxChainSteps)
	}
	if c.Cache.LabelCacheSize <= 0 {
		return fmt.Errorf("%w: invalid label cache size: %d", ErrInvalidConfig, c.Cache.LabelCacheSize)
	}
	if c.Graph.DenseNodeThreshold <= 0 {
		return fmt.Errorf("%w: invalid dense node threshold: %d", ErrInvalidConfig, c.Graph.DenseNodeThreshold)
	}
	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, c.Logging.Format)
	}
	return nil
}

// String returns a short representation of the Config suitable for logging.
func (c *Config) String() string {
	dir := c.Storage.DataDir
	if c.Storage.InMemory {
		dir = "memory"
	}
	limit := "unlimited"
	if c.Memory.RuntimeLimit > 0 {
		limit = FormatMemorySize(c.Memory.RuntimeLimit)
	}
	return fmt.Sprintf(
		"Config{Storage: %s, BlockSize: %d, Pool: %v/%d, LabelCache: %d, DenseThreshold: %d, ChainCounts: %v, MemLimit: %s}",
		dir, c.Storage.DynamicBlockSize,
		c.Cursors.PoolEnabled, c.Cursors.PoolMaxSize,
		c.Cache.LabelCacheSize,
		c.Graph.DenseNodeThreshold, c.Graph.UseChainCounts,
		limit,
	)
}

// =============================================================================
// Component options
// =============================================================================

// BadgerOptions returns the options for opening Badger-backed stores.
func (c *Config) BadgerOptions() storage.BadgerOptions {
	return storage.BadgerOptions{
		Options:    c.StoreOptions(),
		DataDir:    c.Storage.DataDir,
		InMemory:   c.Storage.InMemory,
		SyncWrites: c.Storage.SyncWrites,
	}
}

// StoreOptions returns the options shared by every store implementation.
func (c *Config) StoreOptions() storage.Options {
	return storage.Options{
		ReservedLowIDs:   c.Storage.ReservedLowIDs,
		DynamicBlockSize: c.Storage.DynamicBlockSize,
	}
}

// PoolConfig returns the cursor arena settings.
func (c *Config) PoolConfig() pool.PoolConfig {
	return pool.PoolConfig{
		Enabled: c.Cursors.PoolEnabled,
		MaxSize: c.Cursors.PoolMaxSize,
	}
}

// LoaderOptions returns the bulk loader settings.
func (c *Config) LoaderOptions() loader.Options {
	return loader.Options{DenseNodeThreshold: c.Graph.DenseNodeThreshold}
}

// ReaderOptions returns the store reader settings. Locks is left nil.
func (c *Config) ReaderOptions() reader.Options {
	return reader.Options{
		LabelCacheSize: c.Cache.LabelCacheSize,
		Dense: dense.Options{
			UseChainCounts: c.Graph.UseChainCounts,
			MaxChainSteps:  c.Cursors.MaxChainSteps,
		},
	}
}

// Apply configures the standard logrus logger.
func (l LoggingConfig) Apply() error {
	level, err := logrus.ParseLevel(l.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	if strings.EqualFold(l.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

// parseMemorySize parses a human-readable memory size string.
// Supports: "1024", "1KB", "1MB", "1GB", "1TB", "0", "unlimited"
func parseMemorySize(s string) int64 {
	s = strings.TrimSpace(strings.ToUpper(s))
	if s == "" || s == "0" || s == "UNLIMITED" {
		return 0
	}

	s = strings.TrimSuffix(s, "B")

	var multiplier int64 = 1
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		s = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		s = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "G")
	case strings.HasSuffix(s, "T"):
		multiplier = 1024 * 1024 * 1024 * 1024
		s = strings.TrimSuffix(s, "T")
	}

	val, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return val * multiplier
}

// FormatMemorySize formats bytes as human-readable string.
func FormatMemorySize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
		TB = GB * 1024
	)

	switch {
	case bytes >= TB:
		return fmt.Sprintf("%.2f TB", float64(bytes)/float64(TB))
	case bytes >= GB:
		return fmt.Sprintf("%.2f GB", float64(bytes)/float64(GB))
	case bytes >= MB:
		return fmt.Sprintf("%.2f MB", float64(bytes)/float64(MB))
	case bytes >= KB:
		return fmt.Sprintf("%.2f KB", float64(bytes)/float64(KB))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// ApplyRuntimeMemory applies the runtime memory settings to the Go runtime.
// Should be called early in main() before heavy allocations.
func (c *MemoryConfig) ApplyRuntimeMemory() {
	if c.RuntimeLimit > 0 {
		debug.SetMemoryLimit(c.RuntimeLimit)
	}
	if c.GCPercent > 0 {
		debug.SetGCPercent(c.GCPercent)
	}
}
