package cursor

import (
	"slices"

	"github.com/orneryd/nornicstore/pkg/dense"
	"github.com/orneryd/nornicstore/pkg/property"
	"github.com/orneryd/nornicstore/pkg/storage"
)

// NodeItem is the view of the node a cursor is positioned on.
type NodeItem interface {
	ID() int64
	// Labels returns the label ids with the transaction's changes applied,
	// sorted ascending.
	Labels() []int32
	HasLabel(label int32) bool
	IsDense() bool
	NextPropertyID() int64
	// NextRelationshipID is the relationship chain head of a sparse node,
	// storage.NoID for a dense one.
	NextRelationshipID() int64
	// NextGroupID is the group chain head of a dense node, storage.NoID for
	// a sparse one.
	NextGroupID() int64
	// IsVirtual reports a node created in the transaction, which has no
	// record yet.
	IsVirtual() bool
}

type nodeItem struct {
	rec     storage.NodeRecord
	labels  []int32
	virtual bool
}

func virtualNode(id int64, labels []int32) nodeItem {
	return nodeItem{
		rec:     storage.NodeRecord{ID: id, NextRel: storage.NoID, NextProp: storage.NoID},
		labels:  labels,
		virtual: true,
	}
}

func (n nodeItem) ID() int64       { return n.rec.ID }
func (n nodeItem) Labels() []int32 { return slices.Clone(n.labels) }
func (n nodeItem) IsDense() bool   { return n.rec.Dense }
func (n nodeItem) IsVirtual() bool { return n.virtual }

func (n nodeItem) HasLabel(label int32) bool {
	_, ok := slices.BinarySearch(n.labels, label)
	return ok
}

func (n nodeItem) NextPropertyID() int64 { return n.rec.NextProp }

func (n nodeItem) NextRelationshipID() int64 {
	if n.rec.Dense {
		return storage.NoID
	}
	return n.rec.NextRel
}

func (n nodeItem) NextGroupID() int64 {
	if !n.rec.Dense {
		return storage.NoID
	}
	return n.rec.NextRel
}

// RelationshipItem is the view of a relationship.
type RelationshipItem = dense.Relationship

// PropertyItem is one property of an entity.
type PropertyItem struct {
	KeyID int32
	Value any
	// Type is the stored type tag; zero for values set in the transaction.
	Type property.Type
	// Added is set for values coming from the transaction overlay.
	Added bool
}
