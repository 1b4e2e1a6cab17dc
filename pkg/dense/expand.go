package dense

import (
	"slices"

	"github.com/orneryd/nornicstore/pkg/storage"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

// Relationship is one relationship produced by an Expansion.
type Relationship struct {
	ID       int64
	Type     int32
	Start    int64
	End      int64
	NextProp int64
	// Added is set for relationships created in the transaction; they have
	// no record and NextProp is storage.NoID.
	Added bool
}

// OtherNode returns the end opposite node.
func (r Relationship) OtherNode(node int64) int64 {
	if r.Start == node {
		return r.End
	}
	return r.Start
}

const (
	phaseDisk = iota
	phaseAdded
	phaseDone
)

// Expansion enumerates the relationships of one node that match a direction
// and an optional type filter. Committed relationships come first in chain
// order, then relationships created in the transaction in id order.
//
// An Expansion is reusable: Init resets every field.
type Expansion struct {
	stores *storage.Stores
	tx     *txstate.State
	node   int64
	dir    storage.Direction
	types  []int32
	limit  int64

	phase int
	dense bool

	groups  GroupWalker
	heads   []int64
	chain   ChainWalker
	walking bool

	added []txstate.RelationshipData
	next  int

	cur Relationship
	err error
}

// Expand positions x before the first relationship of node. An empty types
// filter matches every type. A node that neither lives on disk nor was
// created in tx fails with storage.ErrNotFound.
func (e *Engine) Expand(x *Expansion, node int64, dir storage.Direction, types []int32, tx *txstate.State) error {
	*x = Expansion{
		stores: e.stores,
		tx:     tx,
		node:   node,
		dir:    dir,
		types:  slices.Clone(types),
		limit:  e.opts.MaxChainSteps,
		phase:  phaseAdded,
	}
	rec, onDisk, err := e.nodeRecord(node, tx)
	if err != nil {
		x.phase = phaseDone
		return err
	}
	if onDisk {
		x.phase = phaseDisk
		x.dense = rec.Dense
		if rec.Dense {
			x.groups.Init(e.stores.Groups, node, rec.NextRel, x.limit)
		} else {
			x.chain.Init(e.stores.Relationships, tx, node, rec.NextRel, x.limit)
			x.walking = true
		}
	}
	for _, r := range tx.AddedRelationshipsFor(node) {
		if x.accept(r.Type, r.Start, r.End) {
			x.added = append(x.added, r)
		}
	}
	return nil
}

func (x *Expansion) accept(typ int32, start, end int64) bool {
	if len(x.types) > 0 && !slices.Contains(x.types, typ) {
		return false
	}
	return x.dir.Matches(x.node, start, end)
}

// Next advances to the next matching relationship.
func (x *Expansion) Next() bool {
	for {
		switch x.phase {
		case phaseDisk:
			if x.nextOnDisk() {
				return true
			}
			if x.err != nil {
				x.phase = phaseDone
				return false
			}
			x.phase = phaseAdded
		case phaseAdded:
			if x.next < len(x.added) {
				r := x.added[x.next]
				x.next++
				x.cur = Relationship{ID: r.ID, Type: r.Type, Start: r.Start, End: r.End, NextProp: storage.NoID, Added: true}
				return true
			}
			x.phase = phaseDone
		default:
			return false
		}
	}
}

func (x *Expansion) nextOnDisk() bool {
	for {
		if x.walking {
			for x.chain.Next() {
				r := x.chain.Record()
				if x.accept(r.Type, r.FirstNode, r.SecondNode) {
					x.cur = Relationship{ID: r.ID, Type: r.Type, Start: r.FirstNode, End: r.SecondNode, NextProp: r.NextProp}
					return true
				}
			}
			x.walking = false
			if x.err = x.chain.Err(); x.err != nil {
				return false
			}
		}
		if !x.dense {
			return false
		}
		if len(x.heads) > 0 {
			head := x.heads[0]
			x.heads = x.heads[1:]
			if head != storage.NoID {
				x.chain.Init(x.stores.Relationships, x.tx, x.node, head, x.limit)
				x.walking = true
			}
			continue
		}
		if !x.groups.Next() {
			x.err = x.groups.Err()
			x.dense = false
			return false
		}
		g := x.groups.Record()
		if len(x.types) > 0 && !slices.Contains(x.types, g.Type) {
			continue
		}
		x.heads = chainHeads(g, x.dir)
	}
}

// Relationship returns the current relationship.
func (x *Expansion) Relationship() Relationship { return x.cur }

// Err returns the error that stopped the expansion.
func (x *Expansion) Err() error { return x.err }

// Node returns the node being expanded.
func (x *Expansion) Node() int64 { return x.node }
