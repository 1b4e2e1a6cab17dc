// Package pool provides object pooling for NornicStore to reduce allocations.
//
// Cursors are the hottest allocation site of the read layer: a single query
// may open thousands of them. Instead of allocating a cursor per use, each
// cursor kind owns an Arena of pre-allocated slots. Borrowing hands out a
// slot and an index Handle; returning the handle makes the slot available
// again. Slots are never freed, so a steady workload allocates nothing.
//
// Usage:
//
//	arena := pool.NewArena("node", func() *NodeCursor { return &NodeCursor{} })
//	h, c := arena.Borrow()
//	defer arena.Return(h)
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/orneryd/nornicstore/pkg/metrics"
)

// PoolConfig configures object pooling behavior.
type PoolConfig struct {
	// Enabled controls whether pooling is active
	Enabled bool

	// MaxSize limits the number of slots each arena keeps
	MaxSize int
}

var globalConfig = PoolConfig{
	Enabled: true,
	MaxSize: 1000,
}

var configMu sync.RWMutex

// Configure sets global pool configuration.
// Should be called early during initialization; arenas created afterwards
// pick up the new settings.
func Configure(config PoolConfig) {
	configMu.Lock()
	defer configMu.Unlock()
	globalConfig = config
}

// IsEnabled returns whether pooling is enabled.
func IsEnabled() bool {
	return currentConfig().Enabled
}

func currentConfig() PoolConfig {
	configMu.RLock()
	defer configMu.RUnlock()
	return globalConfig
}

// =============================================================================
// Arena
// =============================================================================

// Handle identifies a borrowed arena slot.
type Handle int32

// NoHandle is returned for objects allocated outside the arena, either
// because pooling is disabled or the arena is full. Returning it is a no-op.
const NoHandle Handle = -1

// Arena is a fixed-growth set of reusable objects addressed by index.
//
// Thread Safety:
//
//	Borrow and Return are safe for concurrent use.
type Arena[T any] struct {
	mu       sync.Mutex
	name     string
	newFn    func() *T
	config   PoolConfig
	slots    []*T
	borrowed []bool
	free     []Handle

	allocated atomic.Int64
	reused    atomic.Int64
	unpooled  atomic.Int64
}

// ArenaStats reports arena usage.
type ArenaStats struct {
	Slots     int
	InUse     int
	Allocated int64
	Reused    int64
	Unpooled  int64
}

// NewArena creates an empty arena. newFn allocates a slot the first time
// it is needed.
func NewArena[T any](name string, newFn func() *T) *Arena[T] {
	return &Arena[T]{name: name, newFn: newFn, config: currentConfig()}
}

// Borrow returns a free slot, allocating one when none is free.
func (a *Arena[T]) Borrow() (Handle, *T) {
	if !a.config.Enabled {
		a.unpooled.Add(1)
		metrics.CursorBorrows.WithLabelValues(a.name, "unpooled").Inc()
		return NoHandle, a.newFn()
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if n := len(a.free); n > 0 {
		h := a.free[n-1]
		a.free = a.free[:n-1]
		a.borrowed[h] = true
		a.reused.Add(1)
		metrics.CursorBorrows.WithLabelValues(a.name, "reused").Inc()
		return h, a.slots[h]
	}
	if a.config.MaxSize > 0 && len(a.slots) >= a.config.MaxSize {
		a.unpooled.Add(1)
		metrics.CursorBorrows.WithLabelValues(a.name, "unpooled").Inc()
		return NoHandle, a.newFn()
	}
	h := Handle(len(a.slots))
	obj := a.newFn()
	a.slots = append(a.slots, obj)
	a.borrowed = append(a.borrowed, true)
	a.allocated.Add(1)
	metrics.CursorBorrows.WithLabelValues(a.name, "new").Inc()
	return h, obj
}

// Return gives a slot back. It reports false when h is NoHandle, unknown
// or already returned, so returning twice is harmless.
func (a *Arena[T]) Return(h Handle) bool {
	if h == NoHandle {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(h) >= len(a.slots) || h < 0 || !a.borrowed[h] {
		return false
	}
	a.borrowed[h] = false
	a.free = append(a.free, h)
	return true
}

// Stats returns a snapshot of arena usage.
func (a *Arena[T]) Stats() ArenaStats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return ArenaStats{
		Slots:     len(a.slots),
		InUse:     len(a.slots) - len(a.free),
		Allocated: a.allocated.Load(),
		Reused:    a.reused.Load(),
		Unpooled:  a.unpooled.Load(),
	}
}
