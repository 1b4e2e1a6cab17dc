package reader

import (
	"fmt"
	"slices"

	"github.com/orneryd/nornicstore/pkg/cursor"
	"github.com/orneryd/nornicstore/pkg/dense"
	"github.com/orneryd/nornicstore/pkg/storage"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

// Session reads the store through one transaction overlay.
//
// Cursors returned by a session must be closed by the caller. Property
// cursors check the session on every step and stop with ErrSessionClosed
// once it is closed.
type Session struct {
	r      *StoreReader
	tx     *txstate.State
	closed bool
}

// Tx returns the session's transaction overlay.
func (s *Session) Tx() *txstate.State { return s.tx }

// Close ends the session. It does not close cursors obtained from it.
func (s *Session) Close() error {
	s.closed = true
	return nil
}

func (s *Session) assertOpen() error {
	if s.closed {
		return ErrSessionClosed
	}
	if s.r.closed.Load() {
		return ErrReaderClosed
	}
	return nil
}

// =============================================================================
// Cursors
// =============================================================================

// AcquireSingleNodeCursor returns a cursor over node id.
func (s *Session) AcquireSingleNodeCursor(id int64) *cursor.SingleNodeCursor {
	return s.r.cursors.SingleNode(s.tx, id)
}

// AcquireSingleRelationshipCursor returns a cursor over relationship id.
func (s *Session) AcquireSingleRelationshipCursor(id int64) *cursor.SingleRelationshipCursor {
	return s.r.cursors.SingleRelationship(s.tx, id)
}

// NodesGetAll returns a cursor over every node.
func (s *Session) NodesGetAll() *cursor.NodeCursor {
	return s.r.cursors.AllNodes(s.tx)
}

// NodesGetForLabel returns a cursor over the nodes carrying label.
func (s *Session) NodesGetForLabel(label int32) *cursor.NodeCursor {
	return s.r.cursors.NodesWithLabel(s.tx, label)
}

// RelationshipsGetAll returns a cursor over every relationship.
func (s *Session) RelationshipsGetAll() *cursor.RelationshipScanCursor {
	return s.r.cursors.AllRelationships(s.tx)
}

// NodeGetRelationships returns a cursor over the relationships of node in
// direction dir, restricted to types when any are given.
func (s *Session) NodeGetRelationships(node int64, dir storage.Direction, types ...int32) *cursor.NodeRelationshipCursor {
	return s.r.cursors.NodeRelationships(s.tx, node, dir, types...)
}

// RelationshipIterator wraps NodeGetRelationships in an id iterator.
func (s *Session) RelationshipIterator(node int64, dir storage.Direction, types ...int32) *cursor.RelationshipIterator {
	return cursor.NewRelationshipIterator(s.NodeGetRelationships(node, dir, types...))
}

// propertyCursor returns a cursor over the properties of the entity whose
// chain starts at first. The cursor holds a read lock on the entity until
// it is closed.
func (s *Session) propertyCursor(kind storage.Kind, id, first int64, diff *txstate.PropertyDiff, key int32) *cursor.PropertyCursor {
	lock := s.r.locks.AcquireRead(kind, id)
	return s.r.cursors.Properties(first, lock, s.assertOpen, diff, key)
}

// NodeProperties returns a property cursor for node, restricted to key
// unless key is cursor.NoKey.
func (s *Session) NodeProperties(node int64, key int32) (*cursor.PropertyCursor, error) {
	if err := s.assertOpen(); err != nil {
		return nil, err
	}
	first, err := s.nodePropertyHead(node)
	if err != nil {
		return nil, err
	}
	return s.propertyCursor(storage.KindNode, node, first, s.tx.NodePropertyDiff(node), key), nil
}

// RelationshipProperties returns a property cursor for rel.
func (s *Session) RelationshipProperties(rel int64, key int32) (*cursor.PropertyCursor, error) {
	if err := s.assertOpen(); err != nil {
		return nil, err
	}
	first, err := s.relationshipPropertyHead(rel)
	if err != nil {
		return nil, err
	}
	return s.propertyCursor(storage.KindRelationship, rel, first, s.tx.RelationshipPropertyDiff(rel), key), nil
}

func (s *Session) nodePropertyHead(node int64) (int64, error) {
	c := s.AcquireSingleNodeCursor(node)
	defer c.Close()
	if !c.Next() {
		if err := c.Err(); err != nil {
			return storage.NoID, err
		}
		return storage.NoID, &storage.EntityNotFoundError{Kind: storage.KindNode, ID: node}
	}
	n, err := c.Get()
	if err != nil {
		return storage.NoID, err
	}
	return n.NextPropertyID(), nil
}

func (s *Session) relationshipPropertyHead(rel int64) (int64, error) {
	c := s.AcquireSingleRelationshipCursor(rel)
	defer c.Close()
	if !c.Next() {
		if err := c.Err(); err != nil {
			return storage.NoID, err
		}
		return storage.NoID, &storage.EntityNotFoundError{Kind: storage.KindRelationship, ID: rel}
	}
	r, err := c.Get()
	if err != nil {
		return storage.NoID, err
	}
	return r.NextProp, nil
}

// =============================================================================
// Degrees
// =============================================================================

// Degree returns the number of relationships of node in direction dir.
func (s *Session) Degree(node int64, dir storage.Direction) (int64, error) {
	return s.r.engine.Degree(node, dir, s.tx)
}

// DegreeForType returns the number of relationships of node of type typ in
// direction dir.
func (s *Session) DegreeForType(node int64, dir storage.Direction, typ int32) (int64, error) {
	return s.r.engine.DegreeForType(node, dir, typ, s.tx)
}

// Degrees calls visit with the per-direction degrees of each relationship
// type of node, in type order, until visit returns false.
func (s *Session) Degrees(node int64, visit func(typ int32, d dense.Degrees) bool) error {
	return s.r.engine.Degrees(node, s.tx, visit)
}

// RelationshipTypes returns the sorted relationship types of node.
func (s *Session) RelationshipTypes(node int64) ([]int32, error) {
	return s.r.engine.RelationshipTypes(node, s.tx)
}

// =============================================================================
// Labels
// =============================================================================

// NodeGetLabels returns the sorted labels of node as the transaction sees
// them. Committed labels come from the label cache.
func (s *Session) NodeGetLabels(node int64) ([]int32, error) {
	if s.tx.NodeIsDeletedInThisTx(node) {
		return nil, &storage.EntityNotFoundError{Kind: storage.KindNode, ID: node}
	}
	diff := s.tx.NodeLabelDiff(node)
	if s.tx.NodeIsAddedInThisTx(node) {
		return diff.Apply(nil), nil
	}
	labels, err := s.r.labels.NodeGetLabels(node, s.r.loadLabels)
	if err != nil {
		return nil, fmt.Errorf("labels of node %d: %w", node, err)
	}
	return diff.Apply(labels), nil
}

// NodeHasLabel reports whether node carries label as the transaction sees it.
func (s *Session) NodeHasLabel(node int64, label int32) (bool, error) {
	diff := s.tx.NodeLabelDiff(node)
	switch {
	case s.tx.NodeIsDeletedInThisTx(node):
		return false, &storage.EntityNotFoundError{Kind: storage.KindNode, ID: node}
	case slices.Contains(diff.Removed, label):
		return false, nil
	case slices.Contains(diff.Added, label):
		return true, nil
	case s.tx.NodeIsAddedInThisTx(node):
		return false, nil
	}
	ok, err := s.r.labels.NodeHasLabel(node, label, s.r.loadLabels)
	if err != nil {
		return false, fmt.Errorf("labels of node %d: %w", node, err)
	}
	return ok, nil
}

// =============================================================================
// Properties
// =============================================================================

// NodeGetProperties returns every property of node keyed by property key id.
func (s *Session) NodeGetProperties(node int64) (map[int32]any, error) {
	c, err := s.NodeProperties(node, cursor.NoKey)
	if err != nil {
		return nil, err
	}
	return collect(c)
}

// NodeGetProperty returns the value of key on node.
func (s *Session) NodeGetProperty(node int64, key int32) (any, bool, error) {
	c, err := s.NodeProperties(node, key)
	if err != nil {
		return nil, false, err
	}
	props, err := collect(c)
	if err != nil {
		return nil, false, err
	}
	v, ok := props[key]
	return v, ok, nil
}

// RelationshipGetProperties returns every property of rel keyed by
// property key id.
func (s *Session) RelationshipGetProperties(rel int64) (map[int32]any, error) {
	c, err := s.RelationshipProperties(rel, cursor.NoKey)
	if err != nil {
		return nil, err
	}
	return collect(c)
}

// collect drains and closes c.
func collect(c *cursor.PropertyCursor) (map[int32]any, error) {
	defer c.Close()
	props := make(map[int32]any)
	for c.Next() {
		p, err := c.Get()
		if err != nil {
			return nil, err
		}
		props[p.KeyID] = p.Value
	}
	if err := c.Err(); err != nil {
		return nil, err
	}
	return props, nil
}

// =============================================================================
// Existence
// =============================================================================

// NodeExists reports whether node is visible to the transaction.
func (s *Session) NodeExists(node int64) (bool, error) {
	c := s.AcquireSingleNodeCursor(node)
	defer c.Close()
	if c.Next() {
		return true, nil
	}
	return false, c.Err()
}

// RelationshipExists reports whether rel is visible to the transaction.
func (s *Session) RelationshipExists(rel int64) (bool, error) {
	c := s.AcquireSingleRelationshipCursor(rel)
	defer c.Close()
	if c.Next() {
		return true, nil
	}
	return false, c.Err()
}
