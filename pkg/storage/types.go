// Package storage provides the record layer of NornicStore.
//
// Every graph entity lives in a fixed-size record addressed by a dense 64-bit id
// inside the store for its kind: nodes, relationships, relationship groups,
// properties and the dynamic stores that hold overflow strings, arrays and
// large label sets. The read layer above this package (cursors, the dense-node
// engine, the label cache) only ever consumes records through the Store
// contract defined here.
//
// Design Principles:
//   - A record's InUse bit is authoritative; ids are reused after deletion
//   - Not-in-use records keep their chain links so readers can step over them
//   - Every chain ends with the NoID sentinel
//   - Stores are safe for concurrent readers while a writer is active
//
// Example Usage:
//
//	stores := storage.NewMemoryStores(storage.Options{})
//	defer stores.Close()
//
//	id := stores.Nodes.NextID()
//	stores.Nodes.Write(storage.NodeRecord{
//		ID:       id,
//		InUse:    true,
//		NextRel:  storage.NoID,
//		NextProp: storage.NoID,
//	})
//
//	rec, err := stores.Nodes.Read(id)
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(rec.InUse) // true
package storage

import (
	"errors"
	"fmt"
)

// NoID terminates every record chain.
const NoID int64 = -1

// PropertyPayloadLongs is the number of 64-bit words in a property record payload.
const PropertyPayloadLongs = 4

// DefaultDynamicBlockSize is the data capacity of a dynamic record in bytes.
const DefaultDynamicBlockSize = 120

// Common errors
var (
	ErrNotFound    = errors.New("not found")
	ErrInvalidID   = errors.New("invalid id")
	ErrInvalidData = errors.New("invalid data")
	ErrStoreClosed = errors.New("store closed")
	ErrChainCycle  = errors.New("chain cycle detected")
)

// EntityNotFoundError reports an id with no live record and no transaction
// creation. It matches ErrNotFound with errors.Is.
type EntityNotFoundError struct {
	Kind Kind
	ID   int64
}

func (e *EntityNotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Kind, e.ID)
}

// Is makes errors.Is(err, ErrNotFound) hold.
func (e *EntityNotFoundError) Is(target error) bool { return target == ErrNotFound }

// Kind identifies a record store.
type Kind uint8

const (
	KindNode Kind = iota + 1
	KindRelationship
	KindRelationshipGroup
	KindProperty
	KindString
	KindArray
	KindLabel
)

// String returns the store name used in logs and metric labels.
func (k Kind) String() string {
	switch k {
	case KindNode:
		return "node"
	case KindRelationship:
		return "relationship"
	case KindRelationshipGroup:
		return "relationship_group"
	case KindProperty:
		return "property"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindLabel:
		return "label"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Direction selects relationships relative to a node.
type Direction uint8

const (
	Outgoing Direction = iota + 1
	Incoming
	Both
)

// String returns the Cypher-style direction name.
func (d Direction) String() string {
	switch d {
	case Outgoing:
		return "OUTGOING"
	case Incoming:
		return "INCOMING"
	case Both:
		return "BOTH"
	default:
		return fmt.Sprintf("direction(%d)", uint8(d))
	}
}

// Matches reports whether a relationship seen from node with the given
// start and end nodes should be returned for this direction.
// Self-loops match every direction.
func (d Direction) Matches(node, start, end int64) bool {
	switch d {
	case Outgoing:
		return start == node
	case Incoming:
		return end == node
	default:
		return start == node || end == node
	}
}

// Record is implemented by every record kind.
type Record interface {
	RecordID() int64
	IsInUse() bool
}

// NodeRecord is the fixed-size on-disk form of a node.
//
// NextRel points at the head of the node's relationship chain when the node
// is sparse, and at the head of its relationship group chain when Dense is set.
// Dense nodes never reference a bare relationship chain.
//
// LabelField holds either up to seven label ids packed inline or a pointer to
// a dynamic label record chain (see InlineLabels and DynamicLabelField).
type NodeRecord struct {
	ID         int64
	InUse      bool
	Dense      bool
	NextRel    int64
	NextProp   int64
	LabelField uint64
}

func (r NodeRecord) RecordID() int64 { return r.ID }
func (r NodeRecord) IsInUse() bool   { return r.InUse }

// RelationshipRecord is the fixed-size on-disk form of a relationship.
//
// The First* links describe the chain from the first (start) node's point of
// view and the Second* links the chain of the second (end) node. When a record
// is the head of a chain the matching FirstIn*Chain flag is set and the prev
// link of that side holds the chain length instead of a record id.
//
// A self-loop (FirstNode == SecondNode) sits in a single chain and carries
// identical first and second links.
type RelationshipRecord struct {
	ID                 int64
	InUse              bool
	FirstNode          int64
	SecondNode         int64
	Type               int32
	FirstPrevRel       int64
	FirstNextRel       int64
	SecondPrevRel      int64
	SecondNextRel      int64
	FirstInFirstChain  bool
	FirstInSecondChain bool
	NextProp           int64
}

func (r RelationshipRecord) RecordID() int64 { return r.ID }
func (r RelationshipRecord) IsInUse() bool   { return r.InUse }

// IsLoop reports whether both ends are the same node.
func (r RelationshipRecord) IsLoop() bool { return r.FirstNode == r.SecondNode }

// NextFor returns the next relationship in node's chain.
func (r RelationshipRecord) NextFor(node int64) int64 {
	if r.FirstNode == node {
		return r.FirstNextRel
	}
	return r.SecondNextRel
}

// ChainCountFor returns the chain length stored in the head record of node's
// chain. ok is false when this record is not flagged as the head.
func (r RelationshipRecord) ChainCountFor(node int64) (count int64, ok bool) {
	if r.FirstNode == node {
		if r.FirstInFirstChain {
			return r.FirstPrevRel, true
		}
		return 0, false
	}
	if r.SecondNode == node && r.FirstInSecondChain {
		return r.SecondPrevRel, true
	}
	return 0, false
}

// OtherNode returns the node at the opposite end from node.
func (r RelationshipRecord) OtherNode(node int64) int64 {
	if r.FirstNode == node {
		return r.SecondNode
	}
	return r.FirstNode
}

// RelationshipGroupRecord holds the three direction chains of one
// relationship type for a dense node.
type RelationshipGroupRecord struct {
	ID         int64
	InUse      bool
	Type       int32
	FirstOut   int64
	FirstIn    int64
	FirstLoop  int64
	Next       int64
	OwningNode int64
}

func (r RelationshipGroupRecord) RecordID() int64 { return r.ID }
func (r RelationshipGroupRecord) IsInUse() bool   { return r.InUse }

// PropertyRecord packs property blocks into a fixed payload of
// PropertyPayloadLongs words. A zero header word ends the payload.
type PropertyRecord struct {
	ID       int64
	InUse    bool
	PrevProp int64
	NextProp int64
	Payload  [PropertyPayloadLongs]uint64
}

func (r PropertyRecord) RecordID() int64 { return r.ID }
func (r PropertyRecord) IsInUse() bool   { return r.InUse }

// DynamicRecord is one fixed-capacity fragment of a string, array or label
// set that did not fit inline.
type DynamicRecord struct {
	ID    int64
	InUse bool
	Data  []byte
	Next  int64
}

func (r DynamicRecord) RecordID() int64 { return r.ID }
func (r DynamicRecord) IsInUse() bool   { return r.InUse }

// Store is the record service for one record kind.
//
// Read never fails for an id that was never written: it returns a not-in-use
// record whose links are NoID. Records that were written and later marked not
// in use are returned as stored, links intact, so chain walkers can continue
// past them.
//
// Thread Safety:
//
//	Implementations are safe for concurrent use. Readers never block on a scan;
//	a record read concurrently with a write returns either version.
type Store[R Record] interface {
	Read(id int64) (R, error)
	Write(record R) error
	// HighestIDInUse is the high-water mark of written ids, or NoID when empty.
	HighestIDInUse() int64
	// NextID reserves a fresh id.
	NextID() int64
	// ReservedLowIDs is the smallest id a full scan starts from.
	ReservedLowIDs() int64
	Kind() Kind
	Close() error
}

// HighWater is the subset of Store used by scan progressions.
type HighWater interface {
	HighestIDInUse() int64
	ReservedLowIDs() int64
}

// Options configures a set of stores.
type Options struct {
	// ReservedLowIDs is the first id handed out and the first id a scan visits.
	ReservedLowIDs int64

	// DynamicBlockSize is the data capacity of dynamic records.
	// Zero means DefaultDynamicBlockSize.
	DynamicBlockSize int
}

func (o Options) blockSize() int {
	if o.DynamicBlockSize <= 0 {
		return DefaultDynamicBlockSize
	}
	return o.DynamicBlockSize
}

// Stores bundles the record stores of one database.
type Stores struct {
	Nodes         Store[NodeRecord]
	Relationships Store[RelationshipRecord]
	Groups        Store[RelationshipGroupRecord]
	Properties    Store[PropertyRecord]
	Strings       Store[DynamicRecord]
	Arrays        Store[DynamicRecord]
	Labels        Store[DynamicRecord]

	// BlockSize is the dynamic record data capacity shared by the dynamic stores.
	BlockSize int

	closer func() error
}

// Close releases every store and the backing engine.
func (s *Stores) Close() error {
	var errs []error
	for _, c := range []interface{ Close() error }{
		s.Nodes, s.Relationships, s.Groups, s.Properties, s.Strings, s.Arrays, s.Labels,
	} {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if s.closer != nil {
		if err := s.closer(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// emptyNode and its siblings build the not-in-use records handed out for ids
// that were never written.
func emptyNode(id int64) NodeRecord {
	return NodeRecord{ID: id, NextRel: NoID, NextProp: NoID}
}

func emptyRelationship(id int64) RelationshipRecord {
	return RelationshipRecord{
		ID:            id,
		FirstNode:     NoID,
		SecondNode:    NoID,
		Type:          -1,
		FirstPrevRel:  NoID,
		FirstNextRel:  NoID,
		SecondPrevRel: NoID,
		SecondNextRel: NoID,
		NextProp:      NoID,
	}
}

func emptyGroup(id int64) RelationshipGroupRecord {
	return RelationshipGroupRecord{
		ID:         id,
		Type:       -1,
		FirstOut:   NoID,
		FirstIn:    NoID,
		FirstLoop:  NoID,
		Next:       NoID,
		OwningNode: NoID,
	}
}

func emptyProperty(id int64) PropertyRecord {
	return PropertyRecord{ID: id, PrevProp: NoID, NextProp: NoID}
}

func emptyDynamic(id int64) DynamicRecord {
	return DynamicRecord{ID: id, Next: NoID}
}
