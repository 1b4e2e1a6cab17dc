// Package storage - Fixed-size binary record codecs for BadgerDB storage.
package storage

import (
	"encoding/binary"
	"fmt"
)

// Codec converts one record kind to and from its fixed-size binary form.
type Codec[R Record] interface {
	Encode(record R) []byte
	Decode(id int64, data []byte) (R, error)
	Empty(id int64) R
	Size() int
}

const (
	flagInUse  = 1 << 0
	flagDense  = 1 << 1
	flagFirstA = 1 << 1
	flagFirstB = 1 << 2
)

const (
	nodeRecordSize         = 1 + 8 + 8 + 8
	relationshipRecordSize = 1 + 8 + 8 + 4 + 8*4 + 8
	groupRecordSize        = 1 + 4 + 8*5
	propertyRecordSize     = 1 + 8 + 8 + 8*PropertyPayloadLongs
	dynamicHeaderSize      = 1 + 8 + 2
)

func putInt64(b []byte, v int64) { binary.BigEndian.PutUint64(b, uint64(v)) }
func getInt64(b []byte) int64    { return int64(binary.BigEndian.Uint64(b)) }

func checkSize(kind Kind, data []byte, want int) error {
	if len(data) != want {
		return fmt.Errorf("%s record: %d bytes, want %d: %w", kind, len(data), want, ErrInvalidData)
	}
	return nil
}

type nodeCodec struct{}

func (nodeCodec) Size() int              { return nodeRecordSize }
func (nodeCodec) Empty(id int64) NodeRecord { return emptyNode(id) }

func (nodeCodec) Encode(r NodeRecord) []byte {
	b := make([]byte, nodeRecordSize)
	if r.InUse {
		b[0] |= flagInUse
	}
	if r.Dense {
		b[0] |= flagDense
	}
	putInt64(b[1:], r.NextRel)
	putInt64(b[9:], r.NextProp)
	binary.BigEndian.PutUint64(b[17:], r.LabelField)
	return b
}

func (nodeCodec) Decode(id int64, b []byte) (NodeRecord, error) {
	if err := checkSize(KindNode, b, nodeRecordSize); err != nil {
		return NodeRecord{}, err
	}
	return NodeRecord{
		ID:         id,
		InUse:      b[0]&flagInUse != 0,
		Dense:      b[0]&flagDense != 0,
		NextRel:    getInt64(b[1:]),
		NextProp:   getInt64(b[9:]),
		LabelField: binary.BigEndian.Uint64(b[17:]),
	}, nil
}

type relationshipCodec struct{}

func (relationshipCodec) Size() int { return relationshipRecordSize }
func (relationshipCodec) Empty(id int64) RelationshipRecord {
	return emptyRelationship(id)
}

func (relationshipCodec) Encode(r RelationshipRecord) []byte {
	b := make([]byte, relationshipRecordSize)
	if r.InUse {
		b[0] |= flagInUse
	}
	if r.FirstInFirstChain {
		b[0] |= flagFirstA
	}
	if r.FirstInSecondChain {
		b[0] |= flagFirstB
	}
	putInt64(b[1:], r.FirstNode)
	putInt64(b[9:], r.SecondNode)
	binary.BigEndian.PutUint32(b[17:], uint32(r.Type))
	putInt64(b[21:], r.FirstPrevRel)
	putInt64(b[29:], r.FirstNextRel)
	putInt64(b[37:], r.SecondPrevRel)
	putInt64(b[45:], r.SecondNextRel)
	putInt64(b[53:], r.NextProp)
	return b
}

func (relationshipCodec) Decode(id int64, b []byte) (RelationshipRecord, error) {
	if err := checkSize(KindRelationship, b, relationshipRecordSize); err != nil {
		return RelationshipRecord{}, err
	}
	return RelationshipRecord{
		ID:                 id,
		InUse:              b[0]&flagInUse != 0,
		FirstInFirstChain:  b[0]&flagFirstA != 0,
		FirstInSecondChain: b[0]&flagFirstB != 0,
		FirstNode:          getInt64(b[1:]),
		SecondNode:         getInt64(b[9:]),
		Type:               int32(binary.BigEndian.Uint32(b[17:])),
		FirstPrevRel:       getInt64(b[21:]),
		FirstNextRel:       getInt64(b[29:]),
		SecondPrevRel:      getInt64(b[37:]),
		SecondNextRel:      getInt64(b[45:]),
		NextProp:           getInt64(b[53:]),
	}, nil
}

type groupCodec struct{}

func (groupCodec) Size() int { return groupRecordSize }
func (groupCodec) Empty(id int64) RelationshipGroupRecord {
	return emptyGroup(id)
}

func (groupCodec) Encode(r RelationshipGroupRecord) []byte {
	b := make([]byte, groupRecordSize)
	if r.InUse {
		b[0] |= flagInUse
	}
	binary.BigEndian.PutUint32(b[1:], uint32(r.Type))
	putInt64(b[5:], r.FirstOut)
	putInt64(b[13:], r.FirstIn)
	putInt64(b[21:], r.FirstLoop)
	putInt64(b[29:], r.Next)
	putInt64(b[37:], r.OwningNode)
	return b
}

func (groupCodec) Decode(id int64, b []byte) (RelationshipGroupRecord, error) {
	if err := checkSize(KindRelationshipGroup, b, groupRecordSize); err != nil {
		return RelationshipGroupRecord{}, err
	}
	return RelationshipGroupRecord{
		ID:         id,
		InUse:      b[0]&flagInUse != 0,
		Type:       int32(binary.BigEndian.Uint32(b[1:])),
		FirstOut:   getInt64(b[5:]),
		FirstIn:    getInt64(b[13:]),
		FirstLoop:  getInt64(b[21:]),
		Next:       getInt64(b[29:]),
		OwningNode: getInt64(b[37:]),
	}, nil
}

type propertyCodec struct{}

func (propertyCodec) Size() int                    { return propertyRecordSize }
func (propertyCodec) Empty(id int64) PropertyRecord { return emptyProperty(id) }

func (propertyCodec) Encode(r PropertyRecord) []byte {
	b := make([]byte, propertyRecordSize)
	if r.InUse {
		b[0] |= flagInUse
	}
	putInt64(b[1:], r.PrevProp)
	putInt64(b[9:], r.NextProp)
	for i, w := range r.Payload {
		binary.BigEndian.PutUint64(b[17+8*i:], w)
	}
	return b
}

func (propertyCodec) Decode(id int64, b []byte) (PropertyRecord, error) {
	if err := checkSize(KindProperty, b, propertyRecordSize); err != nil {
		return PropertyRecord{}, err
	}
	r := PropertyRecord{
		ID:       id,
		InUse:    b[0]&flagInUse != 0,
		PrevProp: getInt64(b[1:]),
		NextProp: getInt64(b[9:]),
	}
	for i := range r.Payload {
		r.Payload[i] = binary.BigEndian.Uint64(b[17+8*i:])
	}
	return r, nil
}

// dynamicCodec pads every record to the block size so records stay fixed-size.
type dynamicCodec struct {
	kind      Kind
	blockSize int
}

func (c dynamicCodec) Size() int                   { return dynamicHeaderSize + c.blockSize }
func (c dynamicCodec) Empty(id int64) DynamicRecord { return emptyDynamic(id) }

func (c dynamicCodec) Encode(r DynamicRecord) []byte {
	b := make([]byte, c.Size())
	if r.InUse {
		b[0] |= flagInUse
	}
	putInt64(b[1:], r.Next)
	n := copy(b[dynamicHeaderSize:], r.Data)
	binary.BigEndian.PutUint16(b[9:], uint16(n))
	return b
}

func (c dynamicCodec) Decode(id int64, b []byte) (DynamicRecord, error) {
	if err := checkSize(c.kind, b, c.Size()); err != nil {
		return DynamicRecord{}, err
	}
	n := int(binary.BigEndian.Uint16(b[9:]))
	if n > c.blockSize {
		return DynamicRecord{}, fmt.Errorf("%s record %d: data length %d exceeds block size %d: %w",
			c.kind, id, n, c.blockSize, ErrInvalidData)
	}
	data := make([]byte, n)
	copy(data, b[dynamicHeaderSize:dynamicHeaderSize+n])
	return DynamicRecord{
		ID:    id,
		InUse: b[0]&flagInUse != 0,
		Next:  getInt64(b[1:]),
		Data:  data,
	}, nil
}
