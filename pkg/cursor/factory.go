package cursor

import (
	"github.com/orneryd/nornicstore/pkg/dense"
	"github.com/orneryd/nornicstore/pkg/pool"
	"github.com/orneryd/nornicstore/pkg/storage"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

// Cursors hands out cursors from one arena per cursor kind. Closing a
// cursor returns it to its arena; the next borrower re-initializes it.
//
// Example:
//
//	cursors := cursor.NewCursors(stores, storage.NewLocks(), engine)
//	c := cursors.SingleNode(tx, 42)
//	defer c.Close()
//	if c.Next() {
//		node, _ := c.Get()
//		fmt.Println(node.Labels())
//	}
//
// Thread Safety:
//
//	The factory is safe for concurrent use; the cursors it returns are not.
type Cursors struct {
	stores *storage.Stores
	locks  storage.LockProvider
	engine *dense.Engine

	nodes       *pool.Arena[NodeCursor]
	singleNodes *pool.Arena[SingleNodeCursor]
	singleRels  *pool.Arena[SingleRelationshipCursor]
	relScans    *pool.Arena[RelationshipScanCursor]
	nodeRels    *pool.Arena[NodeRelationshipCursor]
	labels      *pool.Arena[LabelCursor]
	properties  *pool.Arena[PropertyCursor]
}

// NewCursors creates a cursor factory. A nil locks uses storage.NoLocks.
func NewCursors(stores *storage.Stores, locks storage.LockProvider, engine *dense.Engine) *Cursors {
	if locks == nil {
		locks = storage.NoLocks{}
	}
	return &Cursors{
		stores:      stores,
		locks:       locks,
		engine:      engine,
		nodes:       pool.NewArena("node", func() *NodeCursor { return &NodeCursor{} }),
		singleNodes: pool.NewArena("single_node", func() *SingleNodeCursor { return &SingleNodeCursor{} }),
		singleRels:  pool.NewArena("single_relationship", func() *SingleRelationshipCursor { return &SingleRelationshipCursor{} }),
		relScans:    pool.NewArena("relationship_scan", func() *RelationshipScanCursor { return &RelationshipScanCursor{} }),
		nodeRels:    pool.NewArena("node_relationship", func() *NodeRelationshipCursor { return &NodeRelationshipCursor{} }),
		labels:      pool.NewArena("label", func() *LabelCursor { return &LabelCursor{} }),
		properties:  pool.NewArena("property", func() *PropertyCursor { return &PropertyCursor{} }),
	}
}

func returner[T any](a *pool.Arena[T], h pool.Handle) func() {
	return func() { a.Return(h) }
}

// Nodes returns a cursor over the nodes of prog that carry label, or all of
// them for NoLabel.
func (f *Cursors) Nodes(prog Progression, tx *txstate.State, label int32) *NodeCursor {
	h, c := f.nodes.Borrow()
	c.Init(f.stores, prog, tx, label, returner(f.nodes, h))
	return c
}

// AllNodes returns a cursor over every node.
func (f *Cursors) AllNodes(tx *txstate.State) *NodeCursor {
	return f.Nodes(NewAllNodeProgression(f.stores.Nodes), tx, NoLabel)
}

// NodesWithLabel returns a cursor over the nodes carrying label.
func (f *Cursors) NodesWithLabel(tx *txstate.State, label int32) *NodeCursor {
	return f.Nodes(NewAllNodeProgression(f.stores.Nodes), tx, label)
}

// SingleNode returns a cursor over node id.
func (f *Cursors) SingleNode(tx *txstate.State, id int64) *SingleNodeCursor {
	h, c := f.singleNodes.Borrow()
	c.Init(f.stores, f.locks, tx, id, returner(f.singleNodes, h))
	return c
}

// SingleRelationship returns a cursor over relationship id.
func (f *Cursors) SingleRelationship(tx *txstate.State, id int64) *SingleRelationshipCursor {
	h, c := f.singleRels.Borrow()
	c.Init(f.stores, f.locks, tx, id, returner(f.singleRels, h))
	return c
}

// AllRelationships returns a cursor over every relationship.
func (f *Cursors) AllRelationships(tx *txstate.State) *RelationshipScanCursor {
	h, c := f.relScans.Borrow()
	c.Init(f.stores, NewAllRecordProgression(f.stores.Relationships), tx, returner(f.relScans, h))
	return c
}

// NodeRelationships returns a cursor expanding node in direction dir,
// restricted to types when any are given.
func (f *Cursors) NodeRelationships(tx *txstate.State, node int64, dir storage.Direction, types ...int32) *NodeRelationshipCursor {
	h, c := f.nodeRels.Borrow()
	c.Init(f.engine, node, dir, types, tx, returner(f.nodeRels, h))
	return c
}

// Labels returns a cursor over the labels in field with diff applied.
func (f *Cursors) Labels(field uint64, diff txstate.LabelDiff, filter int32) *LabelCursor {
	h, c := f.labels.Borrow()
	c.Init(f.stores.Labels, field, diff, filter, returner(f.labels, h))
	return c
}

// Properties returns a cursor over the property chain starting at first.
// The cursor takes ownership of lock.
func (f *Cursors) Properties(first int64, lock storage.Lock, assertOpen func() error, diff *txstate.PropertyDiff, key int32) *PropertyCursor {
	h, c := f.properties.Borrow()
	c.Init(f.stores, first, lock, assertOpen, diff, key, returner(f.properties, h))
	return c
}

// Locks returns the lock provider used for re-reads.
func (f *Cursors) Locks() storage.LockProvider { return f.locks }

// Stats returns the arena usage per cursor kind.
func (f *Cursors) Stats() map[string]pool.ArenaStats {
	return map[string]pool.ArenaStats{
		"node":                f.nodes.Stats(),
		"single_node":         f.singleNodes.Stats(),
		"single_relationship": f.singleRels.Stats(),
		"relationship_scan":   f.relScans.Stats(),
		"node_relationship":   f.nodeRels.Stats(),
		"label":               f.labels.Stats(),
		"property":            f.properties.Stats(),
	}
}
