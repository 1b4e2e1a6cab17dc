package config

import (
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	kib = int64(1024)
	mib = kib * 1024
	gib = mib * 1024
	tib = gib * 1024
)

func TestParseMemorySize(t *testing.T) {
	tests := []struct {
		input string
		want  int64
	}{
		{"4096", 4096},
		{"64b", 64},
		{"8K", 8 * kib},
		{"8kb", 8 * kib},
		{"300M", 300 * mib},
		{"300MB", 300 * mib},
		{"3g", 3 * gib},
		{" 2GB ", 2 * gib},
		{"1TB", tib},
		{"0", 0},
		{"", 0},
		{"Unlimited", 0},
		{"lots", 0},
		{"1.5GB", 0},
		// negative sizes parse; Validate-style checks belong to the caller
		{"-2M", -2 * mib},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, parseMemorySize(tt.input))
		})
	}
}

func TestFormatMemorySize(t *testing.T) {
	tests := []struct {
		bytes int64
		want  string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{3 * kib / 2, "1.50 KB"},
		{120 * mib, "120.00 MB"},
		{5 * gib / 4, "1.25 GB"},
		{2 * tib, "2.00 TB"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatMemorySize(tt.bytes))
		})
	}

	t.Run("round_trip_through_env_form", func(t *testing.T) {
		assert.Equal(t, "512.00 MB", FormatMemorySize(parseMemorySize("512MB")))
	})
}

func TestLoadFromEnv_RuntimeMemory(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("NORNICSTORE_MEMORY_LIMIT", "")
		t.Setenv("NORNICSTORE_GC_PERCENT", "")
		cfg := LoadFromEnv()
		assert.Zero(t, cfg.Memory.RuntimeLimit)
		assert.Equal(t, 100, cfg.Memory.GCPercent)
	})

	t.Run("limit_and_gc_percent", func(t *testing.T) {
		t.Setenv("NORNICSTORE_MEMORY_LIMIT", "2GB")
		t.Setenv("NORNICSTORE_GC_PERCENT", "50")
		cfg := LoadFromEnv()
		assert.Equal(t, 2*gib, cfg.Memory.RuntimeLimit)
		assert.Equal(t, "2GB", cfg.Memory.RuntimeLimitStr)
		assert.Equal(t, 50, cfg.Memory.GCPercent)
	})

	t.Run("unlimited", func(t *testing.T) {
		t.Setenv("NORNICSTORE_MEMORY_LIMIT", "unlimited")
		assert.Zero(t, LoadFromEnv().Memory.RuntimeLimit)
	})
}

func TestMemoryConfig_ApplyRuntimeMemory(t *testing.T) {
	prevLimit := debug.SetMemoryLimit(-1)
	prevGC := debug.SetGCPercent(100)
	t.Cleanup(func() {
		debug.SetMemoryLimit(prevLimit)
		debug.SetGCPercent(prevGC)
	})

	(&MemoryConfig{RuntimeLimit: gib, GCPercent: 50}).ApplyRuntimeMemory()
	assert.Equal(t, gib, debug.SetMemoryLimit(-1))
	assert.Equal(t, 50, debug.SetGCPercent(50))

	// zero values leave the runtime alone
	(&MemoryConfig{}).ApplyRuntimeMemory()
	assert.Equal(t, gib, debug.SetMemoryLimit(-1))
	assert.Equal(t, 50, debug.SetGCPercent(50))
}
