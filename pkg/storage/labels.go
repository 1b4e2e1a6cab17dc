package storage

import (
	"encoding/binary"
	"fmt"
	"slices"
)

// Label field layout:
//
//	bit 63      dynamic flag
//	dynamic:    bits 0-39 id of the first label dynamic record
//	inline:     bits 56-59 label count (0-7), bits 0-55 sorted label ids
//	            packed at 56/count bits each, lowest label in the low bits
const (
	labelDynamicFlag   = uint64(1) << 63
	labelPointerMask   = uint64(1)<<40 - 1
	labelCountShift    = 56
	labelPayloadBits   = 56
	MaxInlineLabels    = 7
	labelArrayHeader   = 4
)

// IsDynamicLabelField reports whether the label set lives in a dynamic chain.
func IsDynamicLabelField(field uint64) bool { return field&labelDynamicFlag != 0 }

// DynamicLabelPointer returns the first dynamic record id of a dynamic field.
func DynamicLabelPointer(field uint64) int64 { return int64(field & labelPointerMask) }

// DynamicLabelField builds a field pointing at a label dynamic chain.
func DynamicLabelField(first int64) uint64 {
	return labelDynamicFlag | uint64(first)&labelPointerMask
}

// InlineLabelField packs labels into an inline field. ok is false when the
// set is too large or an id does not fit its slot.
func InlineLabelField(labels []int32) (field uint64, ok bool) {
	n := len(labels)
	if n == 0 {
		return 0, true
	}
	if n > MaxInlineLabels {
		return 0, false
	}
	sorted := slices.Clone(labels)
	slices.Sort(sorted)
	bits := uint(labelPayloadBits / n)
	limit := uint64(1)<<bits - 1
	for i, l := range sorted {
		if l < 0 || uint64(l) > limit {
			return 0, false
		}
		field |= uint64(l) << (uint(i) * bits)
	}
	return field | uint64(n)<<labelCountShift, true
}

// InlineLabelCount returns the number of labels packed in an inline field.
func InlineLabelCount(field uint64) int {
	return int(field >> labelCountShift & 0x0F)
}

// InlineLabelAt returns the i-th (ascending) label of an inline field.
func InlineLabelAt(field uint64, i int) int32 {
	bits := uint(labelPayloadBits / InlineLabelCount(field))
	return int32(field >> (uint(i) * bits) & (uint64(1)<<bits - 1))
}

// InlineLabels unpacks an inline field.
func InlineLabels(field uint64) []int32 {
	n := InlineLabelCount(field)
	if n == 0 {
		return nil
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = InlineLabelAt(field, i)
	}
	return out
}

// EncodeLabelArray serializes a sorted label set for a dynamic chain.
func EncodeLabelArray(labels []int32) []byte {
	sorted := slices.Clone(labels)
	slices.Sort(sorted)
	b := make([]byte, labelArrayHeader+4*len(sorted))
	binary.BigEndian.PutUint32(b, uint32(len(sorted)))
	for i, l := range sorted {
		binary.BigEndian.PutUint32(b[labelArrayHeader+4*i:], uint32(l))
	}
	return b
}

// DecodeLabelArray parses the data of a label dynamic chain.
func DecodeLabelArray(data []byte) ([]int32, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data) < labelArrayHeader {
		return nil, fmt.Errorf("label array: short header: %w", ErrInvalidData)
	}
	n := int(binary.BigEndian.Uint32(data))
	if len(data) < labelArrayHeader+4*n {
		return nil, fmt.Errorf("label array: %d labels in %d bytes: %w", n, len(data), ErrInvalidData)
	}
	out := make([]int32, n)
	for i := range out {
		out[i] = int32(binary.BigEndian.Uint32(data[labelArrayHeader+4*i:]))
	}
	return out, nil
}

// WriteLabels stores labels inline when they fit, otherwise in a new label
// dynamic chain, and returns the field to put in the node record.
func WriteLabels(stores *Stores, labels []int32) (uint64, error) {
	if field, ok := InlineLabelField(labels); ok {
		return field, nil
	}
	first, err := AllocateDynamic(stores.Labels, stores.BlockSize, EncodeLabelArray(labels))
	if err != nil {
		return 0, err
	}
	return DynamicLabelField(first), nil
}

// ReadLabels returns the sorted label ids referenced by field.
func ReadLabels(labelStore Store[DynamicRecord], field uint64) ([]int32, error) {
	if !IsDynamicLabelField(field) {
		return InlineLabels(field), nil
	}
	data, err := ReadDynamicChain(labelStore, DynamicLabelPointer(field), 0)
	if err != nil {
		return nil, fmt.Errorf("read labels: %w", err)
	}
	return DecodeLabelArray(data)
}
