package cache

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicstore/pkg/txstate"
)

type fakeLabels struct {
	mu     sync.Mutex
	labels map[int64][]int32
	calls  atomic.Int64
	gate   chan struct{}
}

func (f *fakeLabels) load(node int64) ([]int32, error) {
	f.calls.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	labels, ok := f.labels[node]
	if !ok {
		return nil, errors.New("no such node")
	}
	return labels, nil
}

func TestLabelCache_GetAndHas(t *testing.T) {
	f := &fakeLabels{labels: map[int64][]int32{1: {5, 2, 2, 9}}}
	c := NewLabelCache(10)

	labels, err := c.NodeGetLabels(1, f.load)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 5, 9}, labels)

	for _, tt := range []struct {
		label int32
		want  bool
	}{{2, true}, {9, true}, {3, false}} {
		got, err := c.NodeHasLabel(1, tt.label, f.load)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "label %d", tt.label)
	}
	assert.Equal(t, int64(1), f.calls.Load())

	t.Run("returned_slice_is_a_copy", func(t *testing.T) {
		labels[0] = 100
		again, err := c.NodeGetLabels(1, f.load)
		require.NoError(t, err)
		assert.Equal(t, []int32{2, 5, 9}, again)
	})

	t.Run("loader_error_is_not_cached", func(t *testing.T) {
		_, err := c.NodeGetLabels(2, f.load)
		assert.Error(t, err)
		_, err = c.NodeHasLabel(2, 1, f.load)
		assert.Error(t, err)
		assert.Equal(t, int64(3), f.calls.Load())
	})

	stats := c.Stats()
	assert.Equal(t, 1, stats.Size)
}

func TestLabelCache_ConcurrentMissesLoadOnce(t *testing.T) {
	f := &fakeLabels{labels: map[int64][]int32{7: {1, 3}}, gate: make(chan struct{})}
	c := NewLabelCache(10)

	const readers = 8
	var wg sync.WaitGroup
	results := make([][]int32, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			labels, err := c.NodeGetLabels(7, f.load)
			assert.NoError(t, err)
			results[i] = labels
		}(i)
	}
	// let the first loader call start, then release it once the others
	// have had time to pile up behind it
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	close(f.gate)
	wg.Wait()

	assert.Equal(t, int64(1), f.calls.Load())
	for _, r := range results {
		assert.Equal(t, []int32{1, 3}, r)
	}

	has, err := c.NodeHasLabel(7, 3, f.load)
	require.NoError(t, err)
	assert.True(t, has)
	assert.Equal(t, int64(1), f.calls.Load())
}

func TestLabelCache_Evict(t *testing.T) {
	f := &fakeLabels{labels: map[int64][]int32{1: {4}}}
	c := NewLabelCache(10)

	_, err := c.NodeGetLabels(1, f.load)
	require.NoError(t, err)
	c.EvictNode(1)
	c.EvictNode(42)
	assert.Zero(t, c.Len())

	f.labels[1] = []int32{4, 6}
	labels, err := c.NodeGetLabels(1, f.load)
	require.NoError(t, err)
	assert.Equal(t, []int32{4, 6}, labels)
	assert.Equal(t, int64(2), f.calls.Load())

	c.Clear()
	assert.Zero(t, c.Len())
}

func TestLabelCache_Apply(t *testing.T) {
	f := &fakeLabels{labels: map[int64][]int32{1: {1, 2}, 2: {1}}}
	c := NewLabelCache(10)
	_, err := c.NodeGetLabels(1, f.load)
	require.NoError(t, err)

	tx := txstate.New()
	tx.NodeDoAddLabel(1, 3)
	tx.NodeDoRemoveLabel(1, 1)
	tx.NodeDoAddLabel(2, 5)
	c.Apply(tx.LabelChanges()...)

	assert.Equal(t, int64(1), f.calls.Load(), "apply never loads")
	assert.Equal(t, 1, c.Len(), "apply never inserts")

	labels, err := c.NodeGetLabels(1, f.load)
	require.NoError(t, err)
	assert.Equal(t, []int32{2, 3}, labels)

	labels, err = c.NodeGetLabels(2, f.load)
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, labels, "uncached node is read from the loader")
	assert.Equal(t, int64(2), f.calls.Load())
}

func TestLabelCache_EvictDuringLoadSkipsStore(t *testing.T) {
	f := &fakeLabels{labels: map[int64][]int32{1: {4}}, gate: make(chan struct{})}
	c := NewLabelCache(10)

	done := make(chan struct{})
	go func() {
		defer close(done)
		labels, err := c.NodeGetLabels(1, f.load)
		assert.NoError(t, err)
		assert.Equal(t, []int32{4}, labels)
	}()
	require.Eventually(t, func() bool { return f.calls.Load() == 1 }, time.Second, time.Millisecond)
	c.EvictNode(1)
	close(f.gate)
	<-done

	assert.Zero(t, c.Len())
}
