// Package loader writes graphs into record stores.
//
// The loader is the bulk write path used to build databases for the read
// layer: it buffers nodes and relationships, then lays them out on Flush.
// Nodes with fewer relationships than the dense threshold get a single
// relationship chain; the others get one relationship group per type, each
// holding outgoing, incoming and self-loop chains. The head record of every
// chain stores the chain length in its prev link so degree queries can skip
// the walk.
//
// Example:
//
//	l := loader.New(stores, loader.Options{DenseNodeThreshold: 50})
//	alice, _ := l.CreateNode([]string{"Person"}, map[string]any{"name": "Alice"})
//	bob, _ := l.CreateNode([]string{"Person"}, map[string]any{"name": "Bob"})
//	_, _ = l.CreateRelationship(alice, bob, "KNOWS", nil)
//	stats, err := l.Flush()
//
// Thread Safety:
//
//	A Loader is safe for concurrent use; Flush excludes all other calls.
package loader

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/orneryd/nornicstore/pkg/property"
	"github.com/orneryd/nornicstore/pkg/storage"
)

// DefaultDenseNodeThreshold is the relationship count at which a node is
// stored as dense.
const DefaultDenseNodeThreshold = 50

var (
	// ErrUnknownNode is returned for a relationship endpoint that was not
	// created by this loader.
	ErrUnknownNode = errors.New("unknown node")
)

// Options configures a Loader.
type Options struct {
	// DenseNodeThreshold is the degree from which a node gets relationship
	// groups. Zero means DefaultDenseNodeThreshold.
	DenseNodeThreshold int

	// Tokens is the token registry to extend. Nil creates a new one.
	Tokens *Tokens
}

// Stats reports what a Flush wrote.
type Stats struct {
	Nodes         int
	Relationships int
	DenseNodes    int
	Groups        int
}

type pendingNode struct {
	id     int64
	labels []int32
	props  map[int32]any
	rels   []int64
}

type pendingRel struct {
	id    int64
	typ   int32
	start int64
	end   int64
	props map[int32]any
}

// Loader buffers a graph and writes it into record stores.
type Loader struct {
	mu        sync.Mutex
	stores    *storage.Stores
	dyn       property.DynamicStores
	threshold int
	tokens    *Tokens
	nodes     map[int64]*pendingNode
	nodeOrder []int64
	rels      []*pendingRel
	log       *logrus.Entry
}

// New creates a loader writing into stores.
func New(stores *storage.Stores, opts Options) *Loader {
	if opts.DenseNodeThreshold <= 0 {
		opts.DenseNodeThreshold = DefaultDenseNodeThreshold
	}
	if opts.Tokens == nil {
		opts.Tokens = NewTokens()
	}
	return &Loader{
		stores:    stores,
		dyn:       property.FromStores(stores),
		threshold: opts.DenseNodeThreshold,
		tokens:    opts.Tokens,
		nodes:     make(map[int64]*pendingNode),
		log:       logrus.WithField("component", "loader"),
	}
}

// Tokens returns the token registries used by the loader.
func (l *Loader) Tokens() *Tokens { return l.tokens }

// CreateNode buffers a node and returns its id.
func (l *Loader) CreateNode(labels []string, props map[string]any) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := &pendingNode{id: l.stores.Nodes.NextID(), props: l.propertyIDs(props)}
	for _, name := range labels {
		id := l.tokens.Labels.GetOrCreate(name)
		if !slices.Contains(n.labels, id) {
			n.labels = append(n.labels, id)
		}
	}
	slices.Sort(n.labels)
	l.nodes[n.id] = n
	l.nodeOrder = append(l.nodeOrder, n.id)
	return n.id, nil
}

// CreateRelationship buffers a relationship between two buffered nodes and
// returns its id.
func (l *Loader) CreateRelationship(start, end int64, typ string, props map[string]any) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.nodes[start]
	if !ok {
		return storage.NoID, fmt.Errorf("start node %d: %w", start, ErrUnknownNode)
	}
	e, ok := l.nodes[end]
	if !ok {
		return storage.NoID, fmt.Errorf("end node %d: %w", end, ErrUnknownNode)
	}
	r := &pendingRel{
		id:    l.stores.Relationships.NextID(),
		typ:   l.tokens.RelationshipTypes.GetOrCreate(typ),
		start: start,
		end:   end,
		props: l.propertyIDs(props),
	}
	s.rels = append(s.rels, r.id)
	if end != start {
		e.rels = append(e.rels, r.id)
	}
	l.rels = append(l.rels, r)
	return r.id, nil
}

func (l *Loader) propertyIDs(props map[string]any) map[int32]any {
	if len(props) == 0 {
		return nil
	}
	names := make([]string, 0, len(props))
	for k := range props {
		names = append(names, k)
	}
	sort.Strings(names)
	out := make(map[int32]any, len(props))
	for _, k := range names {
		out[l.tokens.PropertyKeys.GetOrCreate(k)] = props[k]
	}
	return out
}

// Flush writes every buffered node and relationship and clears the buffer.
func (l *Loader) Flush() (Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var stats Stats
	recs := make(map[int64]*storage.RelationshipRecord, len(l.rels))
	relType := make(map[int64]int32, len(l.rels))
	for _, r := range l.rels {
		rec := &storage.RelationshipRecord{
			ID:            r.id,
			InUse:         true,
			FirstNode:     r.start,
			SecondNode:    r.end,
			Type:          r.typ,
			FirstPrevRel:  storage.NoID,
			FirstNextRel:  storage.NoID,
			SecondPrevRel: storage.NoID,
			SecondNextRel: storage.NoID,
			NextProp:      storage.NoID,
		}
		first, err := l.writeProperties(r.props)
		if err != nil {
			return stats, fmt.Errorf("relationship %d: %w", r.id, err)
		}
		rec.NextProp = first
		recs[r.id] = rec
		relType[r.id] = r.typ
	}

	for _, id := range l.nodeOrder {
		n := l.nodes[id]
		rec := storage.NodeRecord{ID: n.id, InUse: true, NextRel: storage.NoID}
		var err error
		if rec.LabelField, err = storage.WriteLabels(l.stores, n.labels); err != nil {
			return stats, fmt.Errorf("node %d labels: %w", n.id, err)
		}
		if rec.NextProp, err = l.writeProperties(n.props); err != nil {
			return stats, fmt.Errorf("node %d: %w", n.id, err)
		}

		if len(n.rels) >= l.threshold {
			rec.Dense = true
			groups, err := l.writeGroups(n, recs, relType)
			if err != nil {
				return stats, fmt.Errorf("node %d groups: %w", n.id, err)
			}
			if len(groups) > 0 {
				rec.NextRel = groups[0]
			}
			stats.DenseNodes++
			stats.Groups += len(groups)
		} else {
			rec.NextRel = linkChain(n.id, n.rels, recs)
		}

		if err := l.stores.Nodes.Write(rec); err != nil {
			return stats, fmt.Errorf("write node %d: %w", n.id, err)
		}
		stats.Nodes++
	}

	for _, r := range l.rels {
		if err := l.stores.Relationships.Write(*recs[r.id]); err != nil {
			return stats, fmt.Errorf("write relationship %d: %w", r.id, err)
		}
		stats.Relationships++
	}

	l.log.WithFields(logrus.Fields{
		"nodes":         stats.Nodes,
		"relationships": stats.Relationships,
		"dense_nodes":   stats.DenseNodes,
		"groups":        stats.Groups,
	}).Info("flushed graph")

	l.nodes = make(map[int64]*pendingNode)
	l.nodeOrder = nil
	l.rels = nil
	return stats, nil
}

func (l *Loader) writeProperties(props map[int32]any) (int64, error) {
	if len(props) == 0 {
		return storage.NoID, nil
	}
	keys := make([]int32, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	blocks := make([]property.Block, 0, len(keys))
	for _, k := range keys {
		b, err := property.Encode(k, props[k], l.dyn)
		if err != nil {
			return storage.NoID, err
		}
		blocks = append(blocks, b)
	}
	return property.WriteChain(l.stores.Properties, blocks)
}

// writeGroups builds one group per relationship type of a dense node, in
// ascending type order, and returns the group ids in chain order.
func (l *Loader) writeGroups(n *pendingNode, recs map[int64]*storage.RelationshipRecord, relType map[int64]int32) ([]int64, error) {
	type chains struct{ out, in, loop []int64 }
	byType := make(map[int32]*chains)
	var types []int32
	for _, id := range n.rels {
		t := relType[id]
		c, ok := byType[t]
		if !ok {
			c = &chains{}
			byType[t] = c
			types = append(types, t)
		}
		r := recs[id]
		switch {
		case r.IsLoop():
			c.loop = append(c.loop, id)
		case r.FirstNode == n.id:
			c.out = append(c.out, id)
		default:
			c.in = append(c.in, id)
		}
	}
	slices.Sort(types)

	ids := make([]int64, len(types))
	for i := range ids {
		ids[i] = l.stores.Groups.NextID()
	}
	for i, t := range types {
		c := byType[t]
		g := storage.RelationshipGroupRecord{
			ID:         ids[i],
			InUse:      true,
			Type:       t,
			FirstOut:   linkChain(n.id, c.out, recs),
			FirstIn:    linkChain(n.id, c.in, recs),
			FirstLoop:  linkChain(n.id, c.loop, recs),
			Next:       storage.NoID,
			OwningNode: n.id,
		}
		if i+1 < len(ids) {
			g.Next = ids[i+1]
		}
		if err := l.stores.Groups.Write(g); err != nil {
			return nil, err
		}
	}
	return ids, nil
}

// linkChain links rels into node's chain and returns the head. The head's
// prev link on node's side holds the chain length.
func linkChain(node int64, rels []int64, recs map[int64]*storage.RelationshipRecord) int64 {
	if len(rels) == 0 {
		return storage.NoID
	}
	for i, id := range rels {
		prev, next := storage.NoID, storage.NoID
		if i > 0 {
			prev = rels[i-1]
		}
		if i+1 < len(rels) {
			next = rels[i+1]
		}
		head := i == 0
		if head {
			prev = int64(len(rels))
		}
		r := recs[id]
		if r.FirstNode == node {
			r.FirstPrevRel, r.FirstNextRel, r.FirstInFirstChain = prev, next, head
		}
		if r.SecondNode == node {
			r.SecondPrevRel, r.SecondNextRel, r.FirstInSecondChain = prev, next, head
		}
	}
	return rels[0]
}
