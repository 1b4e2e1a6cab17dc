package dense

import (
	"fmt"
	"slices"

	"github.com/orneryd/nornicstore/pkg/storage"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

// Options configures the engine.
type Options struct {
	// UseChainCounts lets degree queries read the chain length stored in a
	// chain head instead of walking the chain, when the count can be trusted.
	UseChainCounts bool

	// MaxChainSteps bounds every chain walk. Zero means the store size.
	MaxChainSteps int64
}

// Degrees holds relationship counts of one node split by chain.
type Degrees struct {
	Out  int64
	In   int64
	Loop int64
}

// For returns the degree in direction dir. Self-loops count toward both
// outgoing and incoming degree.
func (d Degrees) For(dir storage.Direction) int64 {
	switch dir {
	case storage.Outgoing:
		return d.Out + d.Loop
	case storage.Incoming:
		return d.In + d.Loop
	default:
		return d.Out + d.In + d.Loop
	}
}

func (d *Degrees) add(o Degrees) {
	d.Out += o.Out
	d.In += o.In
	d.Loop += o.Loop
}

// count adds one relationship seen from node.
func (d *Degrees) count(node, start, end int64) {
	switch {
	case start == end:
		d.Loop++
	case start == node:
		d.Out++
	default:
		d.In++
	}
}

// Engine answers degree and relationship type queries.
//
// Example:
//
//	engine := dense.NewEngine(stores, dense.Options{UseChainCounts: true})
//	out, err := engine.Degree(nodeID, storage.Outgoing, tx)
//
// Thread Safety:
//
//	Safe for concurrent use; every call walks records independently.
type Engine struct {
	stores *storage.Stores
	opts   Options
}

// NewEngine creates an engine over stores.
func NewEngine(stores *storage.Stores, opts Options) *Engine {
	return &Engine{stores: stores, opts: opts}
}

// MaxChainSteps returns the configured walk bound.
func (e *Engine) MaxChainSteps() int64 { return e.opts.MaxChainSteps }

// nodeRecord reads node and reports whether it lives on disk. A node created
// in the transaction has no record and only overlay relationships.
func (e *Engine) nodeRecord(node int64, tx *txstate.State) (storage.NodeRecord, bool, error) {
	if tx.NodeIsDeletedInThisTx(node) {
		return storage.NodeRecord{}, false, &storage.EntityNotFoundError{Kind: storage.KindNode, ID: node}
	}
	if tx.NodeIsAddedInThisTx(node) {
		return storage.NodeRecord{}, false, nil
	}
	rec, err := e.stores.Nodes.Read(node)
	if err != nil {
		return rec, false, err
	}
	if !rec.InUse {
		return rec, false, &storage.EntityNotFoundError{Kind: storage.KindNode, ID: node}
	}
	return rec, true, nil
}

// Degrees calls visit with the per-type counts of node, ordered by type.
// Only types with at least one relationship are visited, except for dense
// groups whose chains are all empty, which report zero counts.
func (e *Engine) Degrees(node int64, tx *txstate.State, visit func(typ int32, d Degrees) bool) error {
	byType, err := e.degreesByType(node, tx, nil)
	if err != nil {
		return err
	}
	types := make([]int32, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	slices.Sort(types)
	for _, t := range types {
		if !visit(t, byType[t]) {
			return nil
		}
	}
	return nil
}

// Degree returns the number of live relationships of node in direction dir.
func (e *Engine) Degree(node int64, dir storage.Direction, tx *txstate.State) (int64, error) {
	byType, err := e.degreesByType(node, tx, nil)
	if err != nil {
		return 0, err
	}
	var total Degrees
	for _, d := range byType {
		total.add(d)
	}
	return total.For(dir), nil
}

// DegreeForType restricts Degree to one relationship type.
func (e *Engine) DegreeForType(node int64, dir storage.Direction, typ int32, tx *txstate.State) (int64, error) {
	byType, err := e.degreesByType(node, tx, &typ)
	if err != nil {
		return 0, err
	}
	d := byType[typ]
	return d.For(dir), nil
}

func (e *Engine) degreesByType(node int64, tx *txstate.State, only *int32) (map[int32]Degrees, error) {
	rec, onDisk, err := e.nodeRecord(node, tx)
	if err != nil {
		return nil, err
	}
	byType := make(map[int32]Degrees)
	if onDisk {
		if rec.Dense {
			err = e.denseDegrees(rec, tx, only, byType)
		} else {
			err = e.sparseDegrees(rec, tx, only, byType)
		}
		if err != nil {
			return nil, err
		}
	}
	for _, r := range tx.AddedRelationshipsFor(node) {
		if only != nil && r.Type != *only {
			continue
		}
		d := byType[r.Type]
		d.count(node, r.Start, r.End)
		byType[r.Type] = d
	}
	return byType, nil
}

func (e *Engine) sparseDegrees(rec storage.NodeRecord, tx *txstate.State, only *int32, byType map[int32]Degrees) error {
	var w ChainWalker
	w.Init(e.stores.Relationships, tx, rec.ID, rec.NextRel, e.opts.MaxChainSteps)
	for w.Next() {
		r := w.Record()
		if only != nil && r.Type != *only {
			continue
		}
		d := byType[r.Type]
		d.count(rec.ID, r.FirstNode, r.SecondNode)
		byType[r.Type] = d
	}
	return w.Err()
}

func (e *Engine) denseDegrees(rec storage.NodeRecord, tx *txstate.State, only *int32, byType map[int32]Degrees) error {
	trustCounts := e.opts.UseChainCounts && !tx.HasRelationshipChanges(rec.ID)
	var gw GroupWalker
	gw.Init(e.stores.Groups, rec.ID, rec.NextRel, e.opts.MaxChainSteps)
	for gw.Next() {
		g := gw.Record()
		if only != nil && g.Type != *only {
			continue
		}
		var d Degrees
		var err error
		if d.Out, err = e.chainLength(rec.ID, g.FirstOut, trustCounts, tx); err != nil {
			return err
		}
		if d.In, err = e.chainLength(rec.ID, g.FirstIn, trustCounts, tx); err != nil {
			return err
		}
		if d.Loop, err = e.chainLength(rec.ID, g.FirstLoop, trustCounts, tx); err != nil {
			return err
		}
		total := byType[g.Type]
		total.add(d)
		byType[g.Type] = total
	}
	return gw.Err()
}

// chainLength counts the live relationships of one chain. The count stored
// in the chain head is used when allowed and the head is in use and flagged
// as the first record of node's chain; otherwise the chain is walked.
func (e *Engine) chainLength(node, head int64, trustCounts bool, tx *txstate.State) (int64, error) {
	if head == storage.NoID {
		return 0, nil
	}
	if trustCounts {
		rec, err := e.stores.Relationships.Read(head)
		if err != nil {
			return 0, err
		}
		if rec.InUse {
			if n, ok := rec.ChainCountFor(node); ok {
				return n, nil
			}
		}
	}
	var w ChainWalker
	w.Init(e.stores.Relationships, tx, node, head, e.opts.MaxChainSteps)
	var n int64
	for w.Next() {
		n++
	}
	return n, w.Err()
}

// RelationshipTypes returns the distinct relationship types of node in
// ascending order. For a dense node these are the types of its in-use
// groups; for a sparse node the types of its live relationships. Types of
// relationships created in the transaction are included.
func (e *Engine) RelationshipTypes(node int64, tx *txstate.State) ([]int32, error) {
	rec, onDisk, err := e.nodeRecord(node, tx)
	if err != nil {
		return nil, err
	}
	var types []int32
	add := func(t int32) {
		if !slices.Contains(types, t) {
			types = append(types, t)
		}
	}
	if onDisk {
		if rec.Dense {
			var gw GroupWalker
			gw.Init(e.stores.Groups, node, rec.NextRel, e.opts.MaxChainSteps)
			for gw.Next() {
				add(gw.Record().Type)
			}
			if err := gw.Err(); err != nil {
				return nil, fmt.Errorf("relationship types of node %d: %w", node, err)
			}
		} else {
			var w ChainWalker
			w.Init(e.stores.Relationships, tx, node, rec.NextRel, e.opts.MaxChainSteps)
			for w.Next() {
				add(w.Record().Type)
			}
			if err := w.Err(); err != nil {
				return nil, fmt.Errorf("relationship types of node %d: %w", node, err)
			}
		}
	}
	for _, r := range tx.AddedRelationshipsFor(node) {
		add(r.Type)
	}
	slices.Sort(types)
	return types, nil
}
