package cache

import (
	"slices"
	"strconv"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/orneryd/nornicstore/pkg/metrics"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

// LabelLoader reads the committed labels of a node.
type LabelLoader func(node int64) ([]int32, error)

// LabelCache caches the committed label set of nodes.
//
// A miss calls the supplied loader and stores its result. Concurrent misses
// on the same node share a single loader call. Entries hold committed state
// only; transaction overlays are merged by the caller.
//
// Example:
//
//	lc := cache.NewLabelCache(10000)
//	ok, err := lc.NodeHasLabel(id, personLabel, loadLabels)
//
//	// after commit
//	lc.Apply(tx.LabelChanges()...)
//	for _, id := range tx.DeletedNodes() {
//		lc.EvictNode(id)
//	}
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type LabelCache struct {
	lru    *LRU[int64, []int32]
	flight singleflight.Group

	// epoch changes on every eviction or applied change. A load that
	// started in an older epoch does not store its result.
	epoch atomic.Uint64
}

// NewLabelCache creates a label cache holding at most maxNodes entries.
func NewLabelCache(maxNodes int) *LabelCache {
	return &LabelCache{lru: NewLRU[int64, []int32](maxNodes)}
}

// NodeGetLabels returns the sorted committed labels of node. The returned
// slice belongs to the caller.
func (c *LabelCache) NodeGetLabels(node int64, load LabelLoader) ([]int32, error) {
	if labels, ok := c.lru.Get(node); ok {
		metrics.LabelCacheRequests.WithLabelValues("hit").Inc()
		return slices.Clone(labels), nil
	}
	metrics.LabelCacheRequests.WithLabelValues("miss").Inc()

	v, err, _ := c.flight.Do(strconv.FormatInt(node, 10), func() (any, error) {
		if labels, ok := c.lru.Get(node); ok {
			return labels, nil
		}
		epoch := c.epoch.Load()
		metrics.LabelCacheLoads.Inc()
		labels, err := load(node)
		if err != nil {
			return nil, err
		}
		labels = slices.Clone(labels)
		slices.Sort(labels)
		labels = slices.Compact(labels)
		if c.epoch.Load() == epoch {
			c.lru.Put(node, labels)
		}
		return labels, nil
	})
	if err != nil {
		return nil, err
	}
	return slices.Clone(v.([]int32)), nil
}

// NodeHasLabel reports whether node carries label.
func (c *LabelCache) NodeHasLabel(node int64, label int32, load LabelLoader) (bool, error) {
	labels, err := c.NodeGetLabels(node, load)
	if err != nil {
		return false, err
	}
	_, found := slices.BinarySearch(labels, label)
	return found, nil
}

// EvictNode drops the entry of node.
func (c *LabelCache) EvictNode(node int64) {
	c.epoch.Add(1)
	c.lru.Remove(node)
}

// Apply merges committed label changes into the entries that are cached.
// Nodes that are not cached are left alone and will be loaded on demand.
func (c *LabelCache) Apply(changes ...txstate.LabelChange) {
	if len(changes) == 0 {
		return
	}
	c.epoch.Add(1)
	for _, ch := range changes {
		if ch.IsEmpty() {
			continue
		}
		c.lru.Update(ch.Node, func(labels []int32) []int32 {
			return ch.Apply(labels)
		})
	}
}

// Len returns the number of cached nodes.
func (c *LabelCache) Len() int { return c.lru.Len() }

// Stats returns cache statistics.
func (c *LabelCache) Stats() CacheStats { return c.lru.Stats() }

// Clear drops every entry.
func (c *LabelCache) Clear() {
	c.epoch.Add(1)
	c.lru.Clear()
}
