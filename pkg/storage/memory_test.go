package storage

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_ReadWrite(t *testing.T) {
	t.Run("never_written_id_is_not_in_use", func(t *testing.T) {
		stores := NewMemoryStores(Options{})
		defer stores.Close()

		rec, err := stores.Relationships.Read(17)
		require.NoError(t, err)
		assert.False(t, rec.InUse)
		assert.Equal(t, int64(17), rec.ID)
		assert.Equal(t, NoID, rec.FirstNextRel)
		assert.Equal(t, NoID, rec.SecondNextRel)
		assert.Equal(t, NoID, rec.NextProp)
	})

	t.Run("deleted_record_keeps_links", func(t *testing.T) {
		stores := NewMemoryStores(Options{})
		defer stores.Close()

		require.NoError(t, stores.Properties.Write(PropertyRecord{ID: 3, InUse: true, PrevProp: NoID, NextProp: 9}))
		require.NoError(t, stores.Properties.Write(PropertyRecord{ID: 3, InUse: false, PrevProp: NoID, NextProp: 9}))

		rec, err := stores.Properties.Read(3)
		require.NoError(t, err)
		assert.False(t, rec.InUse)
		assert.Equal(t, int64(9), rec.NextProp)
	})

	t.Run("negative_id_is_invalid", func(t *testing.T) {
		stores := NewMemoryStores(Options{})
		defer stores.Close()

		_, err := stores.Nodes.Read(NoID)
		assert.ErrorIs(t, err, ErrInvalidID)
		assert.ErrorIs(t, stores.Nodes.Write(NodeRecord{ID: -5}), ErrInvalidID)
	})

	t.Run("oversized_dynamic_record_is_rejected", func(t *testing.T) {
		stores := NewMemoryStores(Options{DynamicBlockSize: 8})
		defer stores.Close()

		err := stores.Strings.Write(DynamicRecord{ID: 0, InUse: true, Data: make([]byte, 9), Next: NoID})
		assert.ErrorIs(t, err, ErrInvalidData)
	})

	t.Run("closed_store_refuses_reads", func(t *testing.T) {
		stores := NewMemoryStores(Options{})
		require.NoError(t, stores.Close())

		_, err := stores.Nodes.Read(0)
		assert.ErrorIs(t, err, ErrStoreClosed)
	})
}

func TestMemoryStore_IDs(t *testing.T) {
	t.Run("ids_start_at_reserved_low_ids", func(t *testing.T) {
		stores := NewMemoryStores(Options{ReservedLowIDs: 1})
		defer stores.Close()

		assert.Equal(t, NoID, stores.Nodes.HighestIDInUse())
		assert.Equal(t, int64(1), stores.Nodes.NextID())
		assert.Equal(t, int64(2), stores.Nodes.NextID())
		assert.Equal(t, int64(1), stores.Nodes.ReservedLowIDs())
	})

	t.Run("write_raises_high_water_mark_and_counter", func(t *testing.T) {
		stores := NewMemoryStores(Options{})
		defer stores.Close()

		require.NoError(t, stores.Nodes.Write(NodeRecord{ID: 41, InUse: true}))
		assert.Equal(t, int64(41), stores.Nodes.HighestIDInUse())
		assert.Equal(t, int64(42), stores.Nodes.NextID())

		require.NoError(t, stores.Nodes.Write(NodeRecord{ID: 7, InUse: true}))
		assert.Equal(t, int64(41), stores.Nodes.HighestIDInUse())
	})

	t.Run("concurrent_next_id_is_unique", func(t *testing.T) {
		stores := NewMemoryStores(Options{})
		defer stores.Close()

		var mu sync.Mutex
		seen := make(map[int64]bool)
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					id := stores.Nodes.NextID()
					mu.Lock()
					seen[id] = true
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Len(t, seen, 800)
	})
}

func TestMemoryStore_Scan(t *testing.T) {
	store := NewMemoryStore[NodeRecord](KindNode, nodeCodec{}, Options{})
	for _, id := range []int64{5, 1, 3} {
		require.NoError(t, store.Write(NodeRecord{ID: id, InUse: true}))
	}

	var ids []int64
	store.Scan(func(r NodeRecord) bool {
		ids = append(ids, r.ID)
		return true
	})
	assert.Equal(t, []int64{1, 3, 5}, ids)
	assert.Equal(t, 3, store.Len())
}
