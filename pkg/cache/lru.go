// Package cache provides the node label cache of NornicStore.
//
// Reading a node's labels may walk a dynamic record chain, so hot nodes are
// served from memory instead.
//
// Features:
// - LRU eviction for bounded memory
// - Loader de-duplication: concurrent misses on a node load it once
// - Committed label changes patched into cached entries
// - Cache hit/miss statistics
//
// Usage:
//
//	labels := cache.NewLabelCache(10000)
//
//	ids, err := labels.NodeGetLabels(nodeID, func(id int64) ([]int32, error) {
//		return readLabelsFromStore(id)
//	})
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
)

// LRU is a thread-safe least-recently-used map.
//
// The cache uses:
// - Hash map for O(1) lookups
// - Doubly-linked list for LRU ordering
//
// Example:
//
//	lru := cache.NewLRU[int64, []int32](1000)
//	lru.Put(42, []int32{1, 2})
//	if labels, ok := lru.Get(42); ok {
//		...
//	}
type LRU[K comparable, V any] struct {
	mu sync.Mutex

	maxSize int
	enabled bool

	list  *list.List
	items map[K]*list.Element

	hits   atomic.Uint64
	misses atomic.Uint64
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// DefaultMaxSize is used when NewLRU gets a non-positive size.
const DefaultMaxSize = 1000

// NewLRU creates a cache holding at most maxSize entries.
func NewLRU[K comparable, V any](maxSize int) *LRU[K, V] {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &LRU[K, V]{
		maxSize: maxSize,
		enabled: true,
		list:    list.New(),
		items:   make(map[K]*list.Element, maxSize),
	}
}

// Get returns the value for key and marks it most recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	elem, ok := c.items[key]
	if ok {
		c.list.MoveToFront(elem)
	}
	c.mu.Unlock()

	if !ok {
		c.misses.Add(1)
		var zero V
		return zero, false
	}
	c.hits.Add(1)
	return elem.Value.(*lruEntry[K, V]).value, true
}

// Put stores value under key, evicting the least recently used entry when
// the cache is full.
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}

	if elem, ok := c.items[key]; ok {
		elem.Value.(*lruEntry[K, V]).value = value
		c.list.MoveToFront(elem)
		return
	}

	for c.list.Len() >= c.maxSize {
		c.evictOldest()
	}
	c.items[key] = c.list.PushFront(&lruEntry[K, V]{key: key, value: value})
}

// Update replaces the value of key with fn(old) if key is cached, without
// touching its recency. It reports whether key was cached.
func (c *LRU[K, V]) Update(key K, fn func(V) V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return false
	}
	e := elem.Value.(*lruEntry[K, V])
	e.value = fn(e.value)
	return true
}

// Remove removes key and reports whether it was cached.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if ok {
		c.removeElement(elem)
	}
	return ok
}

// Clear removes all entries.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.list.Init()
	c.items = make(map[K]*list.Element, c.maxSize)
}

// Len returns the number of cached entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Stats returns cache statistics.
func (c *LRU[K, V]) Stats() CacheStats {
	hits := c.hits.Load()
	misses := c.misses.Load()

	size := c.Len()

	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return CacheStats{
		Size:    size,
		MaxSize: c.maxSize,
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

// CacheStats holds cache performance statistics.
type CacheStats struct {
	Size    int     // Current number of entries
	MaxSize int     // Maximum capacity
	Hits    uint64  // Number of cache hits
	Misses  uint64  // Number of cache misses
	HitRate float64 // Hit rate percentage (0-100)
}

// SetEnabled enables or disables the cache. Disabling drops every entry
// and turns Put into a no-op.
func (c *LRU[K, V]) SetEnabled(enabled bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.enabled = enabled

	if !enabled {
		c.list.Init()
		c.items = make(map[K]*list.Element, c.maxSize)
	}
}

// evictOldest removes the least recently used entry.
// Caller must hold the lock.
func (c *LRU[K, V]) evictOldest() {
	if elem := c.list.Back(); elem != nil {
		c.removeElement(elem)
	}
}

// removeElement removes an element from the cache.
// Caller must hold the lock.
func (c *LRU[K, V]) removeElement(elem *list.Element) {
	c.list.Remove(elem)
	delete(c.items, elem.Value.(*lruEntry[K, V]).key)
}
