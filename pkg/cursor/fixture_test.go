package cursor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicstore/pkg/dense"
	"github.com/orneryd/nornicstore/pkg/loader"
	"github.com/orneryd/nornicstore/pkg/storage"
)

// graph is a small committed graph:
//
//	(a:A:B {name: "Node"}) -[:KNOWS]-> (b:A) -[:LIKES]-> (c)
type graph struct {
	stores  *storage.Stores
	tokens  *loader.Tokens
	locks   *storage.CountingLocks
	cursors *Cursors

	a, b, c  int64
	knows    int64
	likes    int64
	labelA   int32
	labelB   int32
	nameKey  int32
	knowsTyp int32
}

func newGraph(t *testing.T) *graph {
	t.Helper()
	stores := storage.NewMemoryStores(storage.Options{DynamicBlockSize: 16})
	t.Cleanup(func() { stores.Close() })

	l := loader.New(stores, loader.Options{})
	g := &graph{stores: stores, tokens: l.Tokens(), locks: storage.NewCountingLocks(storage.NewLocks())}
	var err error
	g.a, err = l.CreateNode([]string{"A", "B"}, map[string]any{"name": "Node"})
	require.NoError(t, err)
	g.b, err = l.CreateNode([]string{"A"}, nil)
	require.NoError(t, err)
	g.c, err = l.CreateNode(nil, nil)
	require.NoError(t, err)
	g.knows, err = l.CreateRelationship(g.a, g.b, "KNOWS", nil)
	require.NoError(t, err)
	g.likes, err = l.CreateRelationship(g.b, g.c, "LIKES", nil)
	require.NoError(t, err)
	_, err = l.Flush()
	require.NoError(t, err)

	g.labelA, _ = g.tokens.Labels.ID("A")
	g.labelB, _ = g.tokens.Labels.ID("B")
	g.nameKey, _ = g.tokens.PropertyKeys.ID("name")
	g.knowsTyp, _ = g.tokens.RelationshipTypes.ID("KNOWS")
	g.cursors = NewCursors(stores, g.locks, dense.NewEngine(stores, dense.Options{}))
	return g
}

func nodeIDs(t *testing.T, c Cursor[NodeItem]) []int64 {
	t.Helper()
	var ids []int64
	for c.Next() {
		n, err := c.Get()
		require.NoError(t, err)
		ids = append(ids, n.ID())
	}
	require.NoError(t, c.Err())
	return ids
}

func relationshipIDs(t *testing.T, c Cursor[RelationshipItem]) []int64 {
	t.Helper()
	var ids []int64
	for c.Next() {
		r, err := c.Get()
		require.NoError(t, err)
		ids = append(ids, r.ID)
	}
	require.NoError(t, c.Err())
	return ids
}

// flakyStore wraps a record store and lets a test intercept reads.
type flakyStore[R storage.Record] struct {
	storage.Store[R]
	reads  int
	onRead func(n int, id int64) (R, bool, error)
}

func (f *flakyStore[R]) Read(id int64) (R, error) {
	f.reads++
	if f.onRead != nil {
		if rec, ok, err := f.onRead(f.reads, id); ok {
			return rec, err
		}
	}
	return f.Store.Read(id)
}

var errPageMoved = errors.New("page moved")
