package cursor

import (
	"fmt"

	"github.com/tidwall/btree"

	"github.com/orneryd/nornicstore/pkg/metrics"
	"github.com/orneryd/nornicstore/pkg/storage"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

// NoLabel disables the label filter of a NodeCursor.
const NoLabel int32 = -1

// NodeCursor scans nodes batch by batch from a Progression.
//
// Nodes deleted in the transaction are skipped even though their records are
// still in use. Nodes created in the transaction are visited as virtual
// items after the last batch; only those already created when Init ran are
// visited, so creating nodes while scanning cannot prolong the scan.
type NodeCursor struct {
	lifecycle
	stores *storage.Stores
	tx     *txstate.State
	prog   Progression
	label  int32

	batch Batch
	pos   int64

	added    *btree.Set[int64]
	addedIDs []int64
	inAdded  bool

	cur nodeItem
}

// Init prepares the cursor. label restricts the scan to nodes carrying it;
// NoLabel visits every node. release runs once on Close.
func (c *NodeCursor) Init(stores *storage.Stores, prog Progression, tx *txstate.State, label int32, release func()) {
	c.open("node", release)
	c.stores = stores
	c.tx = tx
	c.prog = prog
	c.label = label
	c.batch = Batch{Start: 0, End: -1}
	c.pos = 0
	c.added = tx.AddedNodes()
	c.addedIDs = c.added.Keys()
	c.inAdded = false
	c.cur = nodeItem{}
}

func (c *NodeCursor) matches(labels []int32) bool {
	if c.label == NoLabel {
		return true
	}
	for _, l := range labels {
		if l == c.label {
			return true
		}
	}
	return false
}

// Next advances to the next live node.
func (c *NodeCursor) Next() bool {
	if !c.advancing() {
		return false
	}
	for !c.inAdded {
		if c.pos > c.batch.End {
			if c.prog.NextBatch(&c.batch) {
				c.pos = c.batch.Start
				continue
			}
			c.inAdded = true
			break
		}
		id := c.pos
		c.pos++
		if c.added.Contains(id) || c.tx.NodeIsDeletedInThisTx(id) {
			continue
		}
		rec, err := c.stores.Nodes.Read(id)
		if err != nil {
			c.exhaust(fmt.Errorf("node %d: %w", id, err))
			return false
		}
		if !rec.InUse {
			continue
		}
		labels, err := storage.ReadLabels(c.stores.Labels, rec.LabelField)
		if err != nil {
			c.exhaust(fmt.Errorf("node %d: %w", id, err))
			return false
		}
		labels = c.tx.NodeLabelDiff(id).Apply(labels)
		if !c.matches(labels) {
			continue
		}
		c.cur = nodeItem{rec: rec, labels: labels}
		c.positioned()
		return true
	}

	for len(c.addedIDs) > 0 {
		id := c.addedIDs[0]
		c.addedIDs = c.addedIDs[1:]
		if !c.prog.IncludeAdded(id) || !c.tx.NodeIsAddedInThisTx(id) {
			continue
		}
		labels := c.tx.NodeLabelDiff(id).Apply(nil)
		if !c.matches(labels) {
			continue
		}
		c.cur = virtualNode(id, labels)
		c.positioned()
		return true
	}
	c.exhaust(nil)
	return false
}

// Get returns the current node.
func (c *NodeCursor) Get() (NodeItem, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.cur, nil
}

// Close releases the cursor. It is safe to call more than once.
func (c *NodeCursor) Close() error {
	if c.state == stateClosed {
		return nil
	}
	c.stores, c.tx, c.prog = nil, nil, nil
	c.added, c.addedIDs = nil, nil
	c.cur = nodeItem{}
	c.close()
	return nil
}

// SingleNodeCursor reads one node by id.
//
// A node found in use is read a second time under a short read lock, and
// only that read is trusted. A node not found on disk is looked up once more
// in the transaction, which may have created it since the cursor was
// initialized; there is no further retry.
type SingleNodeCursor struct {
	lifecycle
	stores *storage.Stores
	locks  storage.LockProvider
	tx     *txstate.State
	id     int64
	done   bool
	cur    nodeItem
}

// Init prepares the cursor for node id.
func (c *SingleNodeCursor) Init(stores *storage.Stores, locks storage.LockProvider, tx *txstate.State, id int64, release func()) {
	c.open("single_node", release)
	c.stores = stores
	c.locks = locks
	c.tx = tx
	c.id = id
	c.done = false
	c.cur = nodeItem{}
}

// Next returns true exactly once when the node exists.
func (c *SingleNodeCursor) Next() bool {
	if !c.advancing() || c.done {
		c.exhaust(nil)
		return false
	}
	c.done = true

	if c.tx.NodeIsDeletedInThisTx(c.id) {
		c.exhaust(nil)
		return false
	}
	if c.tx.NodeIsAddedInThisTx(c.id) {
		c.cur = virtualNode(c.id, c.tx.NodeLabelDiff(c.id).Apply(nil))
		c.positioned()
		return true
	}

	rec, err := c.stores.Nodes.Read(c.id)
	if err != nil {
		c.exhaust(fmt.Errorf("node %d: %w", c.id, err))
		return false
	}
	if rec.InUse {
		rec, err = reread(c.stores.Nodes, c.locks, c.id)
		if err != nil {
			c.exhaust(err)
			return false
		}
	}
	if !rec.InUse {
		if c.tx.NodeIsAddedInThisTx(c.id) {
			c.cur = virtualNode(c.id, c.tx.NodeLabelDiff(c.id).Apply(nil))
			c.positioned()
			return true
		}
		c.exhaust(nil)
		return false
	}

	labels, err := storage.ReadLabels(c.stores.Labels, rec.LabelField)
	if err != nil {
		c.exhaust(fmt.Errorf("node %d: %w", c.id, err))
		return false
	}
	c.cur = nodeItem{rec: rec, labels: c.tx.NodeLabelDiff(c.id).Apply(labels)}
	c.positioned()
	return true
}

// Get returns the node.
func (c *SingleNodeCursor) Get() (NodeItem, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	return c.cur, nil
}

// Close releases the cursor. It is safe to call more than once.
func (c *SingleNodeCursor) Close() error {
	if c.state == stateClosed {
		return nil
	}
	c.stores, c.locks, c.tx = nil, nil, nil
	c.cur = nodeItem{}
	c.close()
	return nil
}

// reread reads id again while holding a read lock on it. The lock is
// released on every path.
func reread[R storage.Record](store storage.Store[R], locks storage.LockProvider, id int64) (R, error) {
	lock := locks.AcquireRead(store.Kind(), id)
	defer lock.Release()
	rec, err := store.Read(id)
	if err != nil {
		metrics.RereadRaces.WithLabelValues(store.Kind().String()).Inc()
		return rec, fmt.Errorf("%s %d: %w: %w", store.Kind(), id, ErrRereadRace, err)
	}
	return rec, nil
}
