package cursor

import (
	"fmt"

	"github.com/tidwall/btree"

	"github.com/orneryd/nornicstore/pkg/dense"
	"github.com/orneryd/nornicstore/pkg/storage"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

func relationshipItem(r storage.RelationshipRecord) RelationshipItem {
	return RelationshipItem{ID: r.ID, Type: r.Type, Start: r.FirstNode, End: r.SecondNode, NextProp: r.NextProp}
}

func addedRelationshipItem(r txstate.RelationshipData) RelationshipItem {
	return RelationshipItem{ID: r.ID, Type: r.Type, Start: r.Start, End: r.End, NextProp: storage.NoID, Added: true}
}

// SingleRelationshipCursor reads one relationship by id, with the same
// locked re-read and single transaction fallback as SingleNodeCursor.
type SingleRelationshipCursor struct {
	lifecycle
	stores *storage.Stores
	locks  storage.LockProvider
	tx     *txstate.State
	id     int64
	done   bool
	cur    RelationshipItem
}

// Init prepares the cursor for relationship id.
func (c *SingleRelationshipCursor) Init(stores *storage.Stores, locks storage.LockProvider, tx *txstate.State, id int64, release func()) {
	c.open("single_relationship", release)
	c.stores = stores
	c.locks = locks
	c.tx = tx
	c.id = id
	c.done = false
	c.cur = RelationshipItem{}
}

// Next returns true exactly once when the relationship exists.
func (c *SingleRelationshipCursor) Next() bool {
	if !c.advancing() || c.done {
		c.exhaust(nil)
		return false
	}
	c.done = true

	if c.tx.RelationshipIsDeletedInThisTx(c.id) {
		c.exhaust(nil)
		return false
	}
	if r, ok := c.tx.RelationshipData(c.id); ok {
		c.cur = addedRelationshipItem(r)
		c.positioned()
		return true
	}

	rec, err := c.stores.Relationships.Read(c.id)
	if err != nil {
		c.exhaust(fmt.Errorf("relationship %d: %w", c.id, err))
		return false
	}
	if rec.InUse {
		rec, err = reread(c.stores.Relationships, c.locks, c.id)
		if err != nil {
			c.exhaust(err)
			return false
		}
	}
	if !rec.InUse {
		if r, ok := c.tx.RelationshipData(c.id); ok {
			c.cur = addedRelationshipItem(r)
			c.positioned()
			return true
		}
		c.exhaust(nil)
		return false
	}
	c.cur = relationshipItem(rec)
	c.positioned()
	return true
}

// Get returns the relationship.
func (c *SingleRelationshipCursor) Get() (RelationshipItem, error) {
	if err := c.check(); err != nil {
		return RelationshipItem{}, err
	}
	return c.cur, nil
}

// Close releases the cursor. It is safe to call more than once.
func (c *SingleRelationshipCursor) Close() error {
	if c.state == stateClosed {
		return nil
	}
	c.stores, c.locks, c.tx = nil, nil, nil
	c.cur = RelationshipItem{}
	c.close()
	return nil
}

// RelationshipScanCursor visits every relationship, committed ones first in
// id order and then those created in the transaction before Init.
type RelationshipScanCursor struct {
	lifecycle
	stores *storage.Stores
	tx     *txstate.State
	prog   Progression

	batch Batch
	pos   int64

	added    *btree.Set[int64]
	addedIDs []int64
	inAdded  bool

	cur RelationshipItem
}

// Init prepares the cursor.
func (c *RelationshipScanCursor) Init(stores *storage.Stores, prog Progression, tx *txstate.State, release func()) {
	c.open("relationship_scan", release)
	c.stores = stores
	c.tx = tx
	c.prog = prog
	c.batch = Batch{Start: 0, End: -1}
	c.pos = 0
	c.added = tx.AddedRelationships()
	c.addedIDs = c.added.Keys()
	c.inAdded = false
	c.cur = RelationshipItem{}
}

// Next advances to the next live relationship.
func (c *RelationshipScanCursor) Next() bool {
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
		if c.added.Contains(id) || c.tx.RelationshipIsDeletedInThisTx(id) {
			continue
		}
		rec, err := c.stores.Relationships.Read(id)
		if err != nil {
			c.exhaust(fmt.Errorf("relationship %d: %w", id, err))
			return false
		}
		if !rec.InUse {
			continue
		}
		c.cur = relationshipItem(rec)
		c.positioned()
		return true
	}

	for len(c.addedIDs) > 0 {
		id := c.addedIDs[0]
		c.addedIDs = c.addedIDs[1:]
		if !c.prog.IncludeAdded(id) {
			continue
		}
		r, ok := c.tx.RelationshipData(id)
		if !ok {
			continue
		}
		c.cur = addedRelationshipItem(r)
		c.positioned()
		return true
	}
	c.exhaust(nil)
	return false
}

// Get returns the current relationship.
func (c *RelationshipScanCursor) Get() (RelationshipItem, error) {
	if err := c.check(); err != nil {
		return RelationshipItem{}, err
	}
	return c.cur, nil
}

// Close releases the cursor. It is safe to call more than once.
func (c *RelationshipScanCursor) Close() error {
	if c.state == stateClosed {
		return nil
	}
	c.stores, c.tx, c.prog = nil, nil, nil
	c.added, c.addedIDs = nil, nil
	c.cur = RelationshipItem{}
	c.close()
	return nil
}

// NodeRelationshipCursor expands the relationships of one node by direction
// and type, over sparse chains and dense groups alike, followed by the
// matching relationships created in the transaction.
type NodeRelationshipCursor struct {
	lifecycle
	exp dense.Expansion
}

// Init prepares the cursor. An unknown node leaves the cursor exhausted with
// the error available from Err; release still runs on Close.
func (c *NodeRelationshipCursor) Init(engine *dense.Engine, node int64, dir storage.Direction, types []int32, tx *txstate.State, release func()) {
	c.open("node_relationship", release)
	if err := engine.Expand(&c.exp, node, dir, types, tx); err != nil {
		c.exhaust(err)
	}
}

// Next advances to the next matching relationship.
func (c *NodeRelationshipCursor) Next() bool {
	if !c.advancing() {
		return false
	}
	if c.exp.Next() {
		c.positioned()
		return true
	}
	c.exhaust(c.exp.Err())
	return false
}

// Get returns the current relationship.
func (c *NodeRelationshipCursor) Get() (RelationshipItem, error) {
	if err := c.check(); err != nil {
		return RelationshipItem{}, err
	}
	return c.exp.Relationship(), nil
}

// Close releases the cursor. It is safe to call more than once.
func (c *NodeRelationshipCursor) Close() error {
	if c.state == stateClosed {
		return nil
	}
	c.exp = dense.Expansion{}
	c.close()
	return nil
}

// RelationshipIterator adapts a relationship cursor to a HasNext/Next
// iterator. The cursor is advanced only when HasNext (or Next) needs the
// next element, never further ahead.
//
// Example:
//
//	it := cursor.NewRelationshipIterator(c)
//	defer it.Close()
//	for it.HasNext() {
//		id := it.Next()
//	}
type RelationshipIterator struct {
	c       Cursor[RelationshipItem]
	fetched bool
	has     bool
	cur     RelationshipItem
	err     error
}

// NewRelationshipIterator wraps c. Closing the iterator closes c.
func NewRelationshipIterator(c Cursor[RelationshipItem]) *RelationshipIterator {
	return &RelationshipIterator{c: c}
}

// HasNext reports whether Next has an element, advancing the cursor at most
// once per element.
func (it *RelationshipIterator) HasNext() bool {
	if !it.fetched {
		it.fetched = true
		it.has = it.c.Next()
		if it.has {
			it.cur, it.err = it.c.Get()
			if it.err != nil {
				it.has = false
			}
		} else if it.err == nil {
			it.err = it.c.Err()
		}
	}
	return it.has
}

// Next returns the next relationship id, or storage.NoID when there is none.
func (it *RelationshipIterator) Next() int64 {
	if !it.HasNext() {
		return storage.NoID
	}
	it.fetched = false
	return it.cur.ID
}

// Relationship returns the relationship last returned by Next.
func (it *RelationshipIterator) Relationship() RelationshipItem { return it.cur }

// Err returns the error that ended iteration.
func (it *RelationshipIterator) Err() error { return it.err }

// Close closes the underlying cursor.
func (it *RelationshipIterator) Close() error { return it.c.Close() }
