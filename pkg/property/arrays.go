package property

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"
)

// Short array block layout (after the 28-bit header prefix):
//
//	bits 28-31  element type tag
//	bits 32-37  length
//	bits 38-43  required bits per element minus one
//	bits 44-    packed elements
const (
	shortArrayDataOffset = 44
	maxShortArrayLength  = 63
	blockBits            = 64 * 4
)

// Dynamic array layout: [element type][required bits][length u32][packed elements].
// String arrays: [TypeString][0][count u32] followed by [len u32][utf8] per element.
const dynamicArrayHeader = 6

// scalarArray is a slice value flattened to raw bit patterns.
type scalarArray struct {
	elem     Type
	raws     []uint64
	width    uint
	negative bool
}

func flattenArray(v any) (scalarArray, bool) {
	var a scalarArray
	switch s := v.(type) {
	case []bool:
		a = scalarArray{elem: TypeBool, width: 1}
		for _, x := range s {
			if x {
				a.raws = append(a.raws, 1)
			} else {
				a.raws = append(a.raws, 0)
			}
		}
	case []int8:
		a = scalarArray{elem: TypeByte, width: 8}
		for _, x := range s {
			a.negative = a.negative || x < 0
			a.raws = append(a.raws, uint64(x)&mask(8))
		}
	case []int16:
		a = scalarArray{elem: TypeShort, width: 16}
		for _, x := range s {
			a.negative = a.negative || x < 0
			a.raws = append(a.raws, uint64(x)&mask(16))
		}
	case []Char:
		a = scalarArray{elem: TypeChar, width: 16}
		for _, x := range s {
			a.raws = append(a.raws, uint64(x))
		}
	case []int32:
		a = scalarArray{elem: TypeInt, width: 32}
		for _, x := range s {
			a.negative = a.negative || x < 0
			a.raws = append(a.raws, uint64(x)&mask(32))
		}
	case []int64:
		a = scalarArray{elem: TypeLong, width: 64}
		for _, x := range s {
			a.negative = a.negative || x < 0
			a.raws = append(a.raws, uint64(x))
		}
	case []int:
		a = scalarArray{elem: TypeLong, width: 64}
		for _, x := range s {
			a.negative = a.negative || x < 0
			a.raws = append(a.raws, uint64(x))
		}
	case []float32:
		a = scalarArray{elem: TypeFloat, width: 32}
		for _, x := range s {
			a.raws = append(a.raws, uint64(math.Float32bits(x)))
		}
	case []float64:
		a = scalarArray{elem: TypeDouble, width: 64}
		for _, x := range s {
			a.raws = append(a.raws, math.Float64bits(x))
		}
	default:
		return scalarArray{}, false
	}
	return a, true
}

// requiredBits is the per-element width used when packing. Floating point
// and negative integer arrays keep their full width.
func (a scalarArray) requiredBits() uint {
	if a.elem == TypeFloat || a.elem == TypeDouble || a.negative {
		return a.width
	}
	var max uint64
	for _, r := range a.raws {
		if r > max {
			max = r
		}
	}
	n := uint(bits.Len64(max))
	if n == 0 {
		n = 1
	}
	return n
}

// buildArray turns raw bit patterns back into a typed slice.
func buildArray(elem Type, reqBits uint, raws []uint64) (any, error) {
	n := len(raws)
	signed := func(r uint64, width uint) int64 {
		if reqBits == width {
			return signExtend(r, width)
		}
		return int64(r)
	}
	switch elem {
	case TypeBool:
		out := make([]bool, n)
		for i, r := range raws {
			out[i] = r != 0
		}
		return out, nil
	case TypeByte:
		out := make([]int8, n)
		for i, r := range raws {
			out[i] = int8(signed(r, 8))
		}
		return out, nil
	case TypeShort:
		out := make([]int16, n)
		for i, r := range raws {
			out[i] = int16(signed(r, 16))
		}
		return out, nil
	case TypeChar:
		out := make([]Char, n)
		for i, r := range raws {
			out[i] = Char(r)
		}
		return out, nil
	case TypeInt:
		out := make([]int32, n)
		for i, r := range raws {
			out[i] = int32(signed(r, 32))
		}
		return out, nil
	case TypeLong:
		out := make([]int64, n)
		for i, r := range raws {
			out[i] = signed(r, 64)
		}
		return out, nil
	case TypeFloat:
		out := make([]float32, n)
		for i, r := range raws {
			out[i] = math.Float32frombits(uint32(r))
		}
		return out, nil
	case TypeDouble:
		out := make([]float64, n)
		for i, r := range raws {
			out[i] = math.Float64frombits(r)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("array element %s: %w", elem, ErrInvalidType)
	}
}

// encodeShortArray packs a into a block. ok is false when it does not fit.
func encodeShortArray(keyID int32, a scalarArray) (Block, bool) {
	if len(a.raws) > maxShortArrayLength {
		return Block{}, false
	}
	req := a.requiredBits()
	if shortArrayDataOffset+uint(len(a.raws))*req > blockBits {
		return Block{}, false
	}
	w := newHeaderWriter(keyID, TypeShortArray)
	w.put(uint64(a.elem), 4)
	w.put(uint64(len(a.raws)), 6)
	w.put(uint64(req-1), 6)
	for _, r := range a.raws {
		w.put(r, req)
	}
	return Block{words: w.words}, true
}

func decodeShortArray(words []uint64) (any, error) {
	r := &bitReader{words: words, pos: headerBits}
	elem := Type(r.get(4))
	n := int(r.get(6))
	req := uint(r.get(6)) + 1
	raws := make([]uint64, n)
	for i := range raws {
		raws[i] = r.get(req)
	}
	return buildArray(elem, req, raws)
}

// shortArrayWords returns the block length of a short array from its header.
func shortArrayWords(header uint64) int {
	n := uint(header >> 32 & mask(6))
	req := uint(header>>38&mask(6)) + 1
	return wordsFor(shortArrayDataOffset + n*req)
}

func encodeDynamicArray(a scalarArray) []byte {
	req := a.requiredBits()
	out := make([]byte, dynamicArrayHeader)
	out[0] = byte(a.elem)
	out[1] = byte(req)
	binary.BigEndian.PutUint32(out[2:], uint32(len(a.raws)))
	w := &bitWriter{}
	for _, r := range a.raws {
		w.put(r, req)
	}
	return append(out, w.bytes()...)
}

func encodeStringArray(s []string) []byte {
	size := dynamicArrayHeader
	for _, x := range s {
		size += 4 + len(x)
	}
	out := make([]byte, dynamicArrayHeader, size)
	out[0] = byte(TypeString)
	binary.BigEndian.PutUint32(out[2:], uint32(len(s)))
	for _, x := range s {
		out = binary.BigEndian.AppendUint32(out, uint32(len(x)))
		out = append(out, x...)
	}
	return out
}

func decodeDynamicArray(data []byte) (any, error) {
	if len(data) < dynamicArrayHeader {
		return nil, fmt.Errorf("dynamic array: %d byte header: %w", len(data), ErrInvalidType)
	}
	elem := Type(data[0])
	n := int(binary.BigEndian.Uint32(data[2:]))
	body := data[dynamicArrayHeader:]
	if elem == TypeString {
		out := make([]string, 0, n)
		for i := 0; i < n; i++ {
			if len(body) < 4 {
				return nil, fmt.Errorf("string array element %d: truncated: %w", i, ErrInvalidType)
			}
			l := int(binary.BigEndian.Uint32(body))
			if len(body) < 4+l {
				return nil, fmt.Errorf("string array element %d: truncated: %w", i, ErrInvalidType)
			}
			out = append(out, string(body[4:4+l]))
			body = body[4+l:]
		}
		return out, nil
	}
	req := uint(data[1])
	if req == 0 || req > 64 {
		return nil, fmt.Errorf("dynamic array: %d required bits: %w", req, ErrInvalidType)
	}
	r := newByteReader(body)
	raws := make([]uint64, n)
	for i := range raws {
		raws[i] = r.get(req)
	}
	return buildArray(elem, req, raws)
}
