package cursor

import (
	"sync"

	"github.com/orneryd/nornicstore/pkg/storage"
)

// Batch is an inclusive range of record ids to scan.
type Batch struct {
	Start int64
	End   int64
}

// Len returns the number of ids in the batch.
func (b Batch) Len() int64 {
	if b.End < b.Start {
		return 0
	}
	return b.End - b.Start + 1
}

// Progression hands out the id ranges of a scan.
//
// NextBatch fills b and reports true while there is something to scan.
// Once it reports false it keeps reporting false. No id is handed out twice.
//
// IncludeAdded reports whether an id created in the transaction belongs to
// the scan; such ids are not on disk and the cursor visits them after the
// last batch.
type Progression interface {
	NextBatch(b *Batch) bool
	IncludeAdded(id int64) bool
}

// AllRecordProgression scans every id of a store from its reserved low ids
// up to the high-water mark. When the mark grows during the scan a follow-up
// batch covers the new ids; once the mark stops moving the scan is over.
type AllRecordProgression struct {
	mu    sync.Mutex
	store storage.HighWater
	next  int64
	done  bool
}

// NewAllRecordProgression creates a progression over store.
func NewAllRecordProgression(store storage.HighWater) *AllRecordProgression {
	return &AllRecordProgression{store: store, next: store.ReservedLowIDs()}
}

// NewAllNodeProgression creates a progression over every node.
func NewAllNodeProgression(nodes storage.Store[storage.NodeRecord]) *AllRecordProgression {
	return NewAllRecordProgression(nodes)
}

func (p *AllRecordProgression) NextBatch(b *Batch) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return false
	}
	high := p.store.HighestIDInUse()
	if high < p.next {
		p.done = true
		return false
	}
	b.Start, b.End = p.next, high
	p.next = high + 1
	return true
}

func (p *AllRecordProgression) IncludeAdded(int64) bool { return true }

// SingleProgression yields one id, once.
type SingleProgression struct {
	id   int64
	done bool
}

// NewSingleNodeProgression creates a progression over node id.
func NewSingleNodeProgression(id int64) *SingleProgression {
	return &SingleProgression{id: id}
}

func (p *SingleProgression) NextBatch(b *Batch) bool {
	if p.done {
		return false
	}
	p.done = true
	b.Start, b.End = p.id, p.id
	return true
}

func (p *SingleProgression) IncludeAdded(id int64) bool { return id == p.id }
