package storage

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tidwall/btree"
)

// idAllocator tracks the high-water mark and the next free id of one store.
type idAllocator struct {
	reserved int64
	next     atomic.Int64
	high     atomic.Int64
}

func newIDAllocator(reserved int64) *idAllocator {
	a := &idAllocator{reserved: reserved}
	a.next.Store(reserved)
	a.high.Store(NoID)
	return a
}

func (a *idAllocator) NextID() int64 {
	return a.next.Add(1) - 1
}

func (a *idAllocator) HighestIDInUse() int64 { return a.high.Load() }
func (a *idAllocator) ReservedLowIDs() int64 { return a.reserved }

// observe raises the high-water mark and the id counter past id.
func (a *idAllocator) observe(id int64) {
	for {
		cur := a.high.Load()
		if id <= cur || a.high.CompareAndSwap(cur, id) {
			break
		}
	}
	for {
		cur := a.next.Load()
		if id < cur || a.next.CompareAndSwap(cur, id+1) {
			break
		}
	}
}

// MemoryStore is a thread-safe in-memory record store ordered by id.
//
// Records are kept in a tidwall/btree map so full dumps (used by the CLI and
// the tests) come out in ascending id order. The high-water mark only grows:
// marking a record not in use does not lower it.
//
// Thread Safety:
//
//	All methods are safe for concurrent use. Reads take a shared lock for the
//	duration of a single lookup only.
type MemoryStore[R Record] struct {
	mu      sync.RWMutex
	records btree.Map[int64, R]
	codec   Codec[R]
	kind    Kind
	closed  bool
	*idAllocator
}

// NewMemoryStore creates an empty store for one record kind.
func NewMemoryStore[R Record](kind Kind, codec Codec[R], opts Options) *MemoryStore[R] {
	return &MemoryStore[R]{
		codec:       codec,
		kind:        kind,
		idAllocator: newIDAllocator(opts.ReservedLowIDs),
	}
}

// Read returns the record with the given id, or a not-in-use record when the
// id was never written.
func (m *MemoryStore[R]) Read(id int64) (R, error) {
	if id < 0 {
		var zero R
		return zero, fmt.Errorf("%s store: read %d: %w", m.kind, id, ErrInvalidID)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		var zero R
		return zero, ErrStoreClosed
	}
	if r, ok := m.records.Get(id); ok {
		return r, nil
	}
	return m.codec.Empty(id), nil
}

// Write stores the record, replacing any previous version.
func (m *MemoryStore[R]) Write(record R) error {
	id := record.RecordID()
	if id < 0 {
		return fmt.Errorf("%s store: write %d: %w", m.kind, id, ErrInvalidID)
	}
	if err := validate(m.codec, record); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.records.Set(id, record)
	m.observe(id)
	return nil
}

// Scan visits records in ascending id order until fn returns false.
func (m *MemoryStore[R]) Scan(fn func(R) bool) {
	// Copy marks the source tree shared, so it needs the write lock.
	m.mu.Lock()
	snapshot := m.records.Copy()
	m.mu.Unlock()
	snapshot.Scan(func(_ int64, r R) bool { return fn(r) })
}

// Len returns the number of records ever written.
func (m *MemoryStore[R]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.records.Len()
}

func (m *MemoryStore[R]) Kind() Kind { return m.kind }

// Close drops all records.
func (m *MemoryStore[R]) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.records = btree.Map[int64, R]{}
	return nil
}

// validate rejects dynamic records whose data exceeds the store's block size.
func validate[R Record](codec Codec[R], record R) error {
	dc, ok := any(codec).(dynamicCodec)
	if !ok {
		return nil
	}
	dr := any(record).(DynamicRecord)
	if len(dr.Data) > dc.blockSize {
		return fmt.Errorf("%s record %d: %d bytes exceeds block size %d: %w",
			dc.kind, dr.ID, len(dr.Data), dc.blockSize, ErrInvalidData)
	}
	return nil
}

// NewMemoryStores creates a full set of in-memory stores.
//
// Example:
//
//	stores := storage.NewMemoryStores(storage.Options{ReservedLowIDs: 1})
//	defer stores.Close()
func NewMemoryStores(opts Options) *Stores {
	bs := opts.blockSize()
	return &Stores{
		Nodes:         NewMemoryStore[NodeRecord](KindNode, nodeCodec{}, opts),
		Relationships: NewMemoryStore[RelationshipRecord](KindRelationship, relationshipCodec{}, opts),
		Groups:        NewMemoryStore[RelationshipGroupRecord](KindRelationshipGroup, groupCodec{}, opts),
		Properties:    NewMemoryStore[PropertyRecord](KindProperty, propertyCodec{}, opts),
		Strings:       NewMemoryStore[DynamicRecord](KindString, dynamicCodec{kind: KindString, blockSize: bs}, opts),
		Arrays:        NewMemoryStore[DynamicRecord](KindArray, dynamicCodec{kind: KindArray, blockSize: bs}, opts),
		Labels:        NewMemoryStore[DynamicRecord](KindLabel, dynamicCodec{kind: KindLabel, blockSize: bs}, opts),
		BlockSize:     bs,
	}
}
