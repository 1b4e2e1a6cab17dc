// Package dense implements relationship traversal and counting over the
// sparse and dense node representations.
//
// A sparse node points at a single relationship chain holding all of its
// relationships. A dense node points at a chain of relationship groups, one
// per relationship type, and each group holds up to three chains: outgoing,
// incoming and self-loops.
//
// Every walk tolerates holes: a not-in-use record met mid-chain is stepped
// over and its link followed, because it is the expected trace of an
// uncommitted deletion or a record being reused. Walks are bounded by the
// number of records in the store and fail with storage.ErrChainCycle past it.
package dense

import (
	"fmt"

	"github.com/orneryd/nornicstore/pkg/metrics"
	"github.com/orneryd/nornicstore/pkg/storage"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

// ChainWalker follows one relationship chain from a node's point of view.
//
// Records that are not in use, or that the transaction deleted, are skipped
// but their links are still followed. The walk stops at storage.NoID, or at
// an in-use record that no longer touches the node (the record was reused
// and the rest of the chain is unreachable).
type ChainWalker struct {
	rels  storage.Store[storage.RelationshipRecord]
	tx    *txstate.State
	node  int64
	next  int64
	steps int64
	limit int64
	holes int64
	cur   storage.RelationshipRecord
	err   error
}

// Init positions the walker before first. limit bounds the number of
// records read; zero or less means storage.ChainLimit.
func (w *ChainWalker) Init(rels storage.Store[storage.RelationshipRecord], tx *txstate.State, node, first int64, limit int64) {
	if limit <= 0 {
		limit = storage.ChainLimit(rels)
	}
	*w = ChainWalker{rels: rels, tx: tx, node: node, next: first, limit: limit}
}

// Next advances to the next live relationship of the chain.
func (w *ChainWalker) Next() bool {
	for w.err == nil && w.next != storage.NoID {
		if w.steps >= w.limit {
			w.err = fmt.Errorf("relationship chain of node %d: more than %d steps: %w",
				w.node, w.limit, storage.ErrChainCycle)
			break
		}
		w.steps++
		rec, err := w.rels.Read(w.next)
		if err != nil {
			w.err = err
			break
		}
		if rec.FirstNode != w.node && rec.SecondNode != w.node {
			if rec.InUse {
				w.next = storage.NoID
				break
			}
			// A never-written id: nothing to follow.
			w.holes++
			w.next = storage.NoID
			break
		}
		w.next = rec.NextFor(w.node)
		if !rec.InUse || w.tx.RelationshipIsDeletedInThisTx(rec.ID) {
			w.holes++
			continue
		}
		w.cur = rec
		return true
	}
	w.flushHoles()
	return false
}

// Record returns the current relationship.
func (w *ChainWalker) Record() storage.RelationshipRecord { return w.cur }

// Err returns the error that stopped the walk.
func (w *ChainWalker) Err() error { return w.err }

// Steps returns the number of records read so far.
func (w *ChainWalker) Steps() int64 { return w.steps }

func (w *ChainWalker) flushHoles() {
	if w.holes > 0 {
		metrics.ChainHolesSkipped.WithLabelValues(storage.KindRelationship.String()).Add(float64(w.holes))
		w.holes = 0
	}
}

// GroupWalker follows the relationship group chain of a dense node,
// skipping groups that are not in use.
type GroupWalker struct {
	groups storage.Store[storage.RelationshipGroupRecord]
	node   int64
	next   int64
	steps  int64
	limit  int64
	holes  int64
	cur    storage.RelationshipGroupRecord
	err    error
}

// Init positions the walker before first.
func (w *GroupWalker) Init(groups storage.Store[storage.RelationshipGroupRecord], node, first int64, limit int64) {
	if limit <= 0 {
		limit = storage.ChainLimit(groups)
	}
	*w = GroupWalker{groups: groups, node: node, next: first, limit: limit}
}

// Next advances to the next in-use group.
func (w *GroupWalker) Next() bool {
	for w.err == nil && w.next != storage.NoID {
		if w.steps >= w.limit {
			w.err = fmt.Errorf("group chain of node %d: more than %d steps: %w",
				w.node, w.limit, storage.ErrChainCycle)
			break
		}
		w.steps++
		rec, err := w.groups.Read(w.next)
		if err != nil {
			w.err = err
			break
		}
		if rec.InUse && rec.OwningNode != w.node {
			w.next = storage.NoID
			break
		}
		w.next = rec.Next
		if !rec.InUse {
			w.holes++
			continue
		}
		w.cur = rec
		return true
	}
	if w.holes > 0 {
		metrics.ChainHolesSkipped.WithLabelValues(storage.KindRelationshipGroup.String()).Add(float64(w.holes))
		w.holes = 0
	}
	return false
}

// Record returns the current group.
func (w *GroupWalker) Record() storage.RelationshipGroupRecord { return w.cur }

// Err returns the error that stopped the walk.
func (w *GroupWalker) Err() error { return w.err }

// Steps returns the number of records read so far.
func (w *GroupWalker) Steps() int64 { return w.steps }

// chainHeads returns the group chains that hold relationships of dir.
func chainHeads(g storage.RelationshipGroupRecord, dir storage.Direction) []int64 {
	switch dir {
	case storage.Outgoing:
		return []int64{g.FirstOut, g.FirstLoop}
	case storage.Incoming:
		return []int64{g.FirstIn, g.FirstLoop}
	default:
		return []int64{g.FirstOut, g.FirstIn, g.FirstLoop}
	}
}
