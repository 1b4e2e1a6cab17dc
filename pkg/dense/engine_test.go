package dense

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicstore/pkg/loader"
	"github.com/orneryd/nornicstore/pkg/storage"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

type partition struct {
	out, in, loop int
}

type fixture struct {
	stores *storage.Stores
	tokens *loader.Tokens
	hub    int64
	other  int64
	rels   map[string][]int64 // "T/out", "T/in", "T/loop", ...
}

func (f *fixture) typeID(t *testing.T, name string) int32 {
	t.Helper()
	id, ok := f.tokens.RelationshipTypes.ID(name)
	require.True(t, ok, name)
	return id
}

func (f *fixture) markNotInUse(t *testing.T, rel int64) {
	t.Helper()
	rec, err := f.stores.Relationships.Read(rel)
	require.NoError(t, err)
	rec.InUse = false
	require.NoError(t, f.stores.Relationships.Write(rec))
}

// buildHub creates a hub node with the given relationships per type. threshold
// decides whether the hub is stored dense.
func buildHub(t *testing.T, threshold int, byType map[string]partition) *fixture {
	t.Helper()
	stores := storage.NewMemoryStores(storage.Options{})
	t.Cleanup(func() { stores.Close() })

	l := loader.New(stores, loader.Options{DenseNodeThreshold: threshold})
	f := &fixture{stores: stores, tokens: l.Tokens(), rels: map[string][]int64{}}
	var err error
	f.hub, err = l.CreateNode([]string{"Hub"}, nil)
	require.NoError(t, err)
	f.other, err = l.CreateNode(nil, nil)
	require.NoError(t, err)

	for _, typ := range []string{"T", "U", "V"} {
		p, ok := byType[typ]
		if !ok {
			continue
		}
		add := func(key string, n int, start, end int64) {
			for i := 0; i < n; i++ {
				id, err := l.CreateRelationship(start, end, typ, nil)
				require.NoError(t, err)
				f.rels[typ+"/"+key] = append(f.rels[typ+"/"+key], id)
			}
		}
		add("out", p.out, f.hub, f.other)
		add("in", p.in, f.other, f.hub)
		add("loop", p.loop, f.hub, f.hub)
	}
	_, err = l.Flush()
	require.NoError(t, err)
	return f
}

func TestDegrees_For(t *testing.T) {
	d := Degrees{Out: 2, In: 3, Loop: 4}
	assert.Equal(t, int64(6), d.For(storage.Outgoing))
	assert.Equal(t, int64(7), d.For(storage.Incoming))
	assert.Equal(t, int64(9), d.For(storage.Both))
}

func TestEngine_DegreeInvariant(t *testing.T) {
	partitions := []partition{
		{0, 0, 0},
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
		{3, 2, 1},
		{5, 0, 4},
		{0, 7, 2},
	}
	layouts := []struct {
		name      string
		threshold int
		counts    bool
	}{
		{"sparse", 1000, false},
		{"dense_walk", 1, false},
		{"dense_chain_counts", 1, true},
	}

	for _, layout := range layouts {
		for _, p := range partitions {
			name := fmt.Sprintf("%s_out%d_in%d_loop%d", layout.name, p.out, p.in, p.loop)
			t.Run(name, func(t *testing.T) {
				f := buildHub(t, layout.threshold, map[string]partition{"T": p, "U": {1, 1, 1}})
				e := NewEngine(f.stores, Options{UseChainCounts: layout.counts})
				typ := f.typeID(t, "T")

				for i := 0; i < 2; i++ {
					out, err := e.DegreeForType(f.hub, storage.Outgoing, typ, nil)
					require.NoError(t, err)
					in, err := e.DegreeForType(f.hub, storage.Incoming, typ, nil)
					require.NoError(t, err)
					both, err := e.DegreeForType(f.hub, storage.Both, typ, nil)
					require.NoError(t, err)
					assert.Equal(t, int64(p.out+p.loop), out)
					assert.Equal(t, int64(p.in+p.loop), in)
					assert.Equal(t, int64(p.out+p.in+p.loop), both)
				}

				all, err := e.Degree(f.hub, storage.Both, nil)
				require.NoError(t, err)
				assert.Equal(t, int64(p.out+p.in+p.loop+3), all)
				all, err = e.Degree(f.hub, storage.Outgoing, nil)
				require.NoError(t, err)
				assert.Equal(t, int64(p.out+p.loop+2), all)
			})
		}
	}
}

func TestEngine_Holes(t *testing.T) {
	for _, counts := range []bool{false, true} {
		t.Run(fmt.Sprintf("dense_relationship_hole_counts_%v", counts), func(t *testing.T) {
			f := buildHub(t, 1, map[string]partition{"T": {4, 3, 2}})
			e := NewEngine(f.stores, Options{UseChainCounts: counts})
			typ := f.typeID(t, "T")

			// A hole in the middle of the outgoing chain, and the head of the
			// incoming chain. Head counts are not maintained here, so only the
			// walking engine sees the middle hole; the incoming head hole
			// forces a walk in both modes.
			f.markNotInUse(t, f.rels["T/in"][0])
			in, err := e.DegreeForType(f.hub, storage.Incoming, typ, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(2+2), in)

			if !counts {
				f.markNotInUse(t, f.rels["T/out"][1])
				out, err := e.DegreeForType(f.hub, storage.Outgoing, typ, nil)
				require.NoError(t, err)
				assert.Equal(t, int64(3+2), out)
			}
		})
	}

	t.Run("sparse_holes_everywhere", func(t *testing.T) {
		f := buildHub(t, 1000, map[string]partition{"T": {3, 3, 0}})
		e := NewEngine(f.stores, Options{})
		f.markNotInUse(t, f.rels["T/out"][0]) // chain head
		f.markNotInUse(t, f.rels["T/in"][1])
		f.markNotInUse(t, f.rels["T/in"][2]) // chain tail

		both, err := e.Degree(f.hub, storage.Both, nil)
		require.NoError(t, err)
		assert.Equal(t, int64(3), both)
	})

	t.Run("group_not_in_use_removes_type", func(t *testing.T) {
		f := buildHub(t, 1, map[string]partition{"T": {1, 1, 1}, "U": {2, 0, 0}, "V": {0, 1, 0}})
		for _, counts := range []bool{false, true} {
			e := NewEngine(f.stores, Options{UseChainCounts: counts})
			types, err := e.RelationshipTypes(f.hub, nil)
			require.NoError(t, err)
			assert.Equal(t, []int32{f.typeID(t, "T"), f.typeID(t, "U"), f.typeID(t, "V")}, types)
		}

		node, err := f.stores.Nodes.Read(f.hub)
		require.NoError(t, err)
		g1, err := f.stores.Groups.Read(node.NextRel)
		require.NoError(t, err)
		g2, err := f.stores.Groups.Read(g1.Next)
		require.NoError(t, err)
		require.Equal(t, f.typeID(t, "U"), g2.Type)
		g2.InUse = false
		require.NoError(t, f.stores.Groups.Write(g2))

		for _, counts := range []bool{false, true} {
			e := NewEngine(f.stores, Options{UseChainCounts: counts})
			types, err := e.RelationshipTypes(f.hub, nil)
			require.NoError(t, err)
			assert.Equal(t, []int32{f.typeID(t, "T"), f.typeID(t, "V")}, types)

			both, err := e.Degree(f.hub, storage.Both, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(4), both)
			u, err := e.DegreeForType(f.hub, storage.Both, f.typeID(t, "U"), nil)
			require.NoError(t, err)
			assert.Zero(t, u)
		}
	})

	t.Run("first_group_not_in_use", func(t *testing.T) {
		f := buildHub(t, 1, map[string]partition{"T": {1, 0, 0}, "U": {0, 1, 0}})
		node, err := f.stores.Nodes.Read(f.hub)
		require.NoError(t, err)
		g1, err := f.stores.Groups.Read(node.NextRel)
		require.NoError(t, err)
		g1.InUse = false
		require.NoError(t, f.stores.Groups.Write(g1))

		e := NewEngine(f.stores, Options{})
		types, err := e.RelationshipTypes(f.hub, nil)
		require.NoError(t, err)
		assert.Equal(t, []int32{f.typeID(t, "U")}, types)
	})
}

func TestEngine_ReusedRecordEndsChain(t *testing.T) {
	f := buildHub(t, 1000, map[string]partition{"T": {3, 0, 0}})
	stranger, err := f.stores.Relationships.Read(f.rels["T/out"][1])
	require.NoError(t, err)
	stranger.FirstNode, stranger.SecondNode = 100, 101
	require.NoError(t, f.stores.Relationships.Write(stranger))

	e := NewEngine(f.stores, Options{})
	out, err := e.Degree(f.hub, storage.Outgoing, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), out)
}

func TestChainWalker_Bounds(t *testing.T) {
	t.Run("cycle_is_reported", func(t *testing.T) {
		f := buildHub(t, 1000, map[string]partition{"T": {3, 0, 0}})
		last := f.rels["T/out"][2]
		rec, err := f.stores.Relationships.Read(last)
		require.NoError(t, err)
		rec.FirstNextRel = f.rels["T/out"][0]
		require.NoError(t, f.stores.Relationships.Write(rec))

		e := NewEngine(f.stores, Options{MaxChainSteps: 10})
		_, err = e.Degree(f.hub, storage.Both, nil)
		assert.ErrorIs(t, err, storage.ErrChainCycle)

		_, err = e.RelationshipTypes(f.hub, nil)
		assert.ErrorIs(t, err, storage.ErrChainCycle)
	})

	t.Run("all_holes_terminates_in_chain_length_steps", func(t *testing.T) {
		f := buildHub(t, 1000, map[string]partition{"T": {4, 0, 1}})
		for _, id := range append(f.rels["T/out"], f.rels["T/loop"]...) {
			f.markNotInUse(t, id)
		}
		node, err := f.stores.Nodes.Read(f.hub)
		require.NoError(t, err)

		var w ChainWalker
		w.Init(f.stores.Relationships, nil, f.hub, node.NextRel, 0)
		assert.False(t, w.Next())
		assert.NoError(t, w.Err())
		assert.Equal(t, int64(5), w.Steps())

		// Reusing the walker starts afresh.
		w.Init(f.stores.Relationships, nil, f.hub, node.NextRel, 2)
		assert.False(t, w.Next())
		assert.ErrorIs(t, w.Err(), storage.ErrChainCycle)
		assert.Equal(t, int64(2), w.Steps())
	})
}

func TestEngine_TransactionOverlay(t *testing.T) {
	for _, layout := range []struct {
		name      string
		threshold int
	}{{"sparse", 1000}, {"dense", 1}} {
		t.Run(layout.name, func(t *testing.T) {
			f := buildHub(t, layout.threshold, map[string]partition{"T": {2, 2, 1}})
			e := NewEngine(f.stores, Options{UseChainCounts: true})
			typ := f.typeID(t, "T")

			tx := txstate.New()
			tx.RelationshipDoCreate(500, typ, f.hub, f.other)
			tx.RelationshipDoCreate(501, 9, f.hub, f.hub)
			tx.RelationshipDoDelete(f.rels["T/in"][0], f.other, f.hub)

			out, err := e.DegreeForType(f.hub, storage.Outgoing, typ, tx)
			require.NoError(t, err)
			assert.Equal(t, int64(3+1), out)
			in, err := e.DegreeForType(f.hub, storage.Incoming, typ, tx)
			require.NoError(t, err)
			assert.Equal(t, int64(1+1), in)
			both, err := e.Degree(f.hub, storage.Both, tx)
			require.NoError(t, err)
			assert.Equal(t, int64(5+2-1), both)

			types, err := e.RelationshipTypes(f.hub, tx)
			require.NoError(t, err)
			assert.Equal(t, []int32{typ, 9}, types)

			seen := map[int32]Degrees{}
			require.NoError(t, e.Degrees(f.hub, tx, func(rt int32, d Degrees) bool {
				seen[rt] = d
				return true
			}))
			assert.Equal(t, map[int32]Degrees{typ: {Out: 3, In: 1, Loop: 1}, 9: {Loop: 1}}, seen)

			// Without the overlay the committed counts come back.
			both, err = e.Degree(f.hub, storage.Both, nil)
			require.NoError(t, err)
			assert.Equal(t, int64(5), both)
		})
	}

	t.Run("node_created_in_tx", func(t *testing.T) {
		f := buildHub(t, 1000, nil)
		e := NewEngine(f.stores, Options{})
		tx := txstate.New()
		tx.NodeDoCreate(900)
		tx.RelationshipDoCreate(901, 1, 900, f.hub)

		out, err := e.Degree(900, storage.Outgoing, tx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), out)
	})

	t.Run("missing_and_deleted_nodes", func(t *testing.T) {
		f := buildHub(t, 1000, nil)
		e := NewEngine(f.stores, Options{})

		_, err := e.Degree(12345, storage.Both, nil)
		assert.ErrorIs(t, err, storage.ErrNotFound)

		tx := txstate.New()
		tx.NodeDoDelete(f.hub)
		_, err = e.RelationshipTypes(f.hub, tx)
		var notFound *storage.EntityNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, f.hub, notFound.ID)
	})
}
