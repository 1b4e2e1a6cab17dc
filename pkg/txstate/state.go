// Package txstate holds the in-memory overlay of one transaction.
//
// A State records every node and relationship created or deleted, every
// label added to or removed from a node and every property change made by a
// transaction that has not committed yet. Read cursors consult it to merge
// uncommitted changes over the committed records.
//
// A nil *State is a valid, empty overlay: every query method works on a nil
// receiver and reports "no changes". Read-only and autocommit sessions pass
// nil instead of allocating an empty State.
//
// # ELI12 (Explain Like I'm 12)
//
// Think of the record stores as a printed book and the State as a sticky
// note on top of it. While you are still writing (the transaction), you read
// the book through the note: crossed-out lines are hidden and new lines show
// up. When you commit, the printer applies the note and throws it away.
//
// Thread Safety:
//
//	A State belongs to one transaction. Its methods are guarded by a mutex so
//	a cursor snapshot taken on one goroutine does not race with writes on
//	another, but callers must not share a State between transactions.
package txstate

import (
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/btree"
)

// RelationshipData describes a relationship created in the transaction.
type RelationshipData struct {
	ID    int64
	Type  int32
	Start int64
	End   int64
}

// OtherNode returns the endpoint opposite node.
func (r RelationshipData) OtherNode(node int64) int64 {
	if r.Start == node {
		return r.End
	}
	return r.Start
}

// State is the transaction overlay.
type State struct {
	mu sync.RWMutex

	// ID identifies the transaction in logs.
	ID        uuid.UUID
	StartTime time.Time

	addedNodes   btree.Set[int64]
	deletedNodes btree.Set[int64]
	addedRels    btree.Set[int64]
	deletedRels  btree.Set[int64]

	rels       map[int64]RelationshipData
	relsByNode map[int64]*btree.Set[int64]
	relTouched map[int64]struct{}
	labelDiffs map[int64]*labelDiff
	nodeProps  map[int64]*PropertyDiff
	relProps   map[int64]*PropertyDiff
}

// New creates an empty overlay with a fresh transaction id.
func New() *State {
	return &State{
		ID:         uuid.New(),
		StartTime:  time.Now(),
		rels:       make(map[int64]RelationshipData),
		relsByNode: make(map[int64]*btree.Set[int64]),
		relTouched: make(map[int64]struct{}),
		labelDiffs: make(map[int64]*labelDiff),
		nodeProps:  make(map[int64]*PropertyDiff),
		relProps:   make(map[int64]*PropertyDiff),
	}
}

// HasChanges reports whether the transaction changed anything.
func (s *State) HasChanges() bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addedNodes.Len() > 0 || s.deletedNodes.Len() > 0 ||
		s.addedRels.Len() > 0 || s.deletedRels.Len() > 0 ||
		len(s.labelDiffs) > 0 || len(s.nodeProps) > 0 || len(s.relProps) > 0
}

// ============================================================================
// Nodes
// ============================================================================

// NodeDoCreate records a node created in this transaction.
func (s *State) NodeDoCreate(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addedNodes.Insert(id)
	s.deletedNodes.Delete(id)
}

// NodeDoDelete records a node deletion. Deleting a node created in this
// transaction simply forgets it.
func (s *State) NodeDoDelete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addedNodes.Contains(id) {
		s.addedNodes.Delete(id)
	} else {
		s.deletedNodes.Insert(id)
	}
	delete(s.labelDiffs, id)
	delete(s.nodeProps, id)
}

// NodeIsAddedInThisTx reports whether id was created in this transaction.
func (s *State) NodeIsAddedInThisTx(id int64) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addedNodes.Contains(id)
}

// NodeIsDeletedInThisTx reports whether the committed node id was deleted.
func (s *State) NodeIsDeletedInThisTx(id int64) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deletedNodes.Contains(id)
}

// AddedNodes returns a snapshot of the ids created in this transaction.
// Later creations do not show up in the returned set.
func (s *State) AddedNodes() *btree.Set[int64] {
	if s == nil {
		return &btree.Set[int64]{}
	}
	s.mu.Lock() // Copy marks the source shared
	defer s.mu.Unlock()
	return s.addedNodes.Copy()
}

// DeletedNodes returns the committed node ids deleted in this transaction.
func (s *State) DeletedNodes() []int64 {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deletedNodes.Keys()
}

// ============================================================================
// Relationships
// ============================================================================

// RelationshipDoCreate records a relationship created in this transaction.
func (s *State) RelationshipDoCreate(id int64, typ int32, start, end int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addedRels.Insert(id)
	s.deletedRels.Delete(id)
	s.rels[id] = RelationshipData{ID: id, Type: typ, Start: start, End: end}
	s.indexRel(start, id)
	s.indexRel(end, id)
	s.relTouched[start] = struct{}{}
	s.relTouched[end] = struct{}{}
}

func (s *State) indexRel(node, id int64) {
	set, ok := s.relsByNode[node]
	if !ok {
		set = &btree.Set[int64]{}
		s.relsByNode[node] = set
	}
	set.Insert(id)
}

// RelationshipDoDelete records a relationship deletion. start and end mark
// both endpoints as having relationship changes.
func (s *State) RelationshipDoDelete(id int64, start, end int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addedRels.Contains(id) {
		s.addedRels.Delete(id)
		delete(s.rels, id)
		for _, n := range []int64{start, end} {
			if set, ok := s.relsByNode[n]; ok {
				set.Delete(id)
			}
		}
	} else {
		s.deletedRels.Insert(id)
	}
	delete(s.relProps, id)
	s.relTouched[start] = struct{}{}
	s.relTouched[end] = struct{}{}
}

// RelationshipIsAddedInThisTx reports whether id was created in this transaction.
func (s *State) RelationshipIsAddedInThisTx(id int64) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addedRels.Contains(id)
}

// RelationshipIsDeletedInThisTx reports whether the committed relationship id was deleted.
func (s *State) RelationshipIsDeletedInThisTx(id int64) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deletedRels.Contains(id)
}

// AddedRelationships returns a snapshot of the relationship ids created in
// this transaction.
func (s *State) AddedRelationships() *btree.Set[int64] {
	if s == nil {
		return &btree.Set[int64]{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addedRels.Copy()
}

// RelationshipData returns the endpoints and type of a relationship created
// in this transaction.
func (s *State) RelationshipData(id int64) (RelationshipData, bool) {
	if s == nil {
		return RelationshipData{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rels[id]
	return r, ok
}

// AddedRelationshipsFor returns the relationships created in this
// transaction that touch node, ordered by id.
func (s *State) AddedRelationshipsFor(node int64) []RelationshipData {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	set, ok := s.relsByNode[node]
	if !ok {
		return nil
	}
	out := make([]RelationshipData, 0, set.Len())
	set.Scan(func(id int64) bool {
		out = append(out, s.rels[id])
		return true
	})
	return out
}

// HasRelationshipChanges reports whether relationships touching node were
// created or deleted in this transaction. Precomputed chain counts of such a
// node are stale.
func (s *State) HasRelationshipChanges(node int64) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.relTouched[node]
	return ok
}

// ============================================================================
// Labels
// ============================================================================

type labelDiff struct {
	added   btree.Set[int32]
	removed btree.Set[int32]
}

// LabelDiff is a snapshot of the label changes made to one node.
type LabelDiff struct {
	Added   []int32
	Removed []int32
}

// IsEmpty reports whether the diff changes nothing.
func (d LabelDiff) IsEmpty() bool { return len(d.Added) == 0 && len(d.Removed) == 0 }

// Apply returns labels with the diff applied, sorted ascending. labels is
// not modified.
func (d LabelDiff) Apply(labels []int32) []int32 {
	if d.IsEmpty() {
		return labels
	}
	out := make([]int32, 0, len(labels)+len(d.Added))
	for _, l := range labels {
		if !slices.Contains(d.Removed, l) {
			out = append(out, l)
		}
	}
	for _, l := range d.Added {
		if !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	return out
}

func (s *State) labelDiffFor(node int64) *labelDiff {
	d, ok := s.labelDiffs[node]
	if !ok {
		d = &labelDiff{}
		s.labelDiffs[node] = d
	}
	return d
}

// NodeDoAddLabel records label added to node.
func (s *State) NodeDoAddLabel(node int64, label int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.labelDiffFor(node)
	d.removed.Delete(label)
	d.added.Insert(label)
}

// NodeDoRemoveLabel records label removed from node.
func (s *State) NodeDoRemoveLabel(node int64, label int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.labelDiffFor(node)
	d.added.Delete(label)
	d.removed.Insert(label)
}

// NodeLabelDiff returns the label changes of node.
func (s *State) NodeLabelDiff(node int64) LabelDiff {
	if s == nil {
		return LabelDiff{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.labelDiffs[node]
	if !ok {
		return LabelDiff{}
	}
	return LabelDiff{Added: d.added.Keys(), Removed: d.removed.Keys()}
}

// LabelChange is the committed label change set of one node.
type LabelChange struct {
	Node int64
	LabelDiff
}

// LabelChanges returns the label diffs of every node, ordered by node id.
// Nodes created in this transaction are included; deleted nodes are not.
func (s *State) LabelChanges() []LabelChange {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]LabelChange, 0, len(s.labelDiffs))
	for node, d := range s.labelDiffs {
		out = append(out, LabelChange{
			Node:      node,
			LabelDiff: LabelDiff{Added: d.added.Keys(), Removed: d.removed.Keys()},
		})
	}
	slices.SortFunc(out, func(a, b LabelChange) int {
		switch {
		case a.Node < b.Node:
			return -1
		case a.Node > b.Node:
			return 1
		}
		return 0
	})
	return out
}
