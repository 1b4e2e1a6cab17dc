package cursor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicstore/pkg/storage"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

func labelIDs(t *testing.T, c *LabelCursor) []int32 {
	t.Helper()
	var out []int32
	for c.Next() {
		l, err := c.Get()
		require.NoError(t, err)
		assert.Equal(t, l, c.GetAsInt())
		out = append(out, l)
	}
	require.NoError(t, c.Err())
	return out
}

func TestLabelCursor(t *testing.T) {
	stores := storage.NewMemoryStores(storage.Options{DynamicBlockSize: 16})
	t.Cleanup(func() { stores.Close() })

	inline, err := storage.WriteLabels(stores, []int32{5, 1, 3})
	require.NoError(t, err)
	require.False(t, storage.IsDynamicLabelField(inline))

	many := make([]int32, 20)
	for i := range many {
		many[i] = int32(i * 3)
	}
	// An unrelated dynamic label chain written before the node's own.
	_, err = storage.WriteLabels(stores, []int32{100, 101, 102, 103, 104, 105, 106, 107})
	require.NoError(t, err)
	dynamic, err := storage.WriteLabels(stores, many)
	require.NoError(t, err)
	require.True(t, storage.IsDynamicLabelField(dynamic))
	own, err := storage.DynamicChainIDs(stores.Labels, storage.DynamicLabelPointer(dynamic))
	require.NoError(t, err)

	var touched []int64
	counting := &flakyStore[storage.DynamicRecord]{Store: stores.Labels}
	counting.onRead = func(_ int, id int64) (storage.DynamicRecord, bool, error) {
		touched = append(touched, id)
		return storage.DynamicRecord{}, false, nil
	}

	var c LabelCursor
	run := func(t *testing.T, field uint64, diff txstate.LabelDiff, filter int32) []int32 {
		c.Init(counting, field, diff, filter, nil)
		defer c.Close()
		return labelIDs(t, &c)
	}

	t.Run("inline", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			assert.Equal(t, []int32{1, 3, 5}, run(t, inline, txstate.LabelDiff{}, NoLabel))
			assert.Equal(t, []int32{3}, run(t, inline, txstate.LabelDiff{}, 3))
			assert.Empty(t, run(t, inline, txstate.LabelDiff{}, 4))
			assert.Empty(t, run(t, inline, txstate.LabelDiff{}, 6))
		}
		assert.Empty(t, touched)
	})

	t.Run("inline_with_diff", func(t *testing.T) {
		diff := txstate.LabelDiff{Added: []int32{2}, Removed: []int32{3}}
		assert.Equal(t, []int32{1, 2, 5}, run(t, inline, diff, NoLabel))
		assert.Empty(t, run(t, inline, diff, 3))
		assert.Equal(t, []int32{2}, run(t, inline, diff, 2))
	})

	t.Run("dynamic", func(t *testing.T) {
		touched = nil
		assert.Equal(t, many, run(t, dynamic, txstate.LabelDiff{}, NoLabel))
		assert.Equal(t, []int32{9}, run(t, dynamic, txstate.LabelDiff{}, 9))
		assert.Empty(t, run(t, dynamic, txstate.LabelDiff{}, 10))
		assert.NotEmpty(t, touched)
		assert.Subset(t, own, touched)
	})

	t.Run("dynamic_filter_answered_by_diff", func(t *testing.T) {
		touched = nil
		diff := txstate.LabelDiff{Added: []int32{1000}, Removed: []int32{9}}
		assert.Empty(t, run(t, dynamic, diff, 9))
		assert.Equal(t, []int32{1000}, run(t, dynamic, diff, 1000))
		assert.Empty(t, touched)
	})

	t.Run("lifecycle", func(t *testing.T) {
		c.Init(counting, inline, txstate.LabelDiff{}, NoLabel, nil)
		assert.Equal(t, NoLabel, c.GetAsInt())
		_, err := c.Get()
		assert.ErrorIs(t, err, ErrCursorMisuse)
		require.NoError(t, c.Close())
		assert.False(t, c.Next())
	})
}
