package property

import (
	"fmt"
	"math"
	"unicode/utf8"

	"github.com/orneryd/nornicstore/pkg/storage"
)

const (
	headerBits     = 28
	keyBits        = 24
	pointerBits    = 36
	inlineLongBits = 35
)

// Block is one encoded property: a header word followed by zero or more
// continuation words.
type Block struct {
	words []uint64
}

// Words returns the encoded words of the block.
func (b Block) Words() []uint64 { return b.words }

// Len returns the number of payload words the block occupies.
func (b Block) Len() int { return len(b.words) }

// KeyID returns the property key id.
func (b Block) KeyID() int32 { return int32(b.words[0] & mask(keyBits)) }

// Type returns the block's type tag.
func (b Block) Type() Type { return Type(b.words[0] >> keyBits & 0xF) }

// DynamicID returns the first dynamic record id of a String or Array block.
func (b Block) DynamicID() (int64, bool) {
	switch b.Type() {
	case TypeString, TypeArray:
		return int64(b.words[0] >> headerBits & mask(pointerBits)), true
	}
	return storage.NoID, false
}

// Value decodes the block, following dynamic chains when needed.
func (b Block) Value(dyn DynamicStores) (any, error) {
	return decodeBlock(b.words, dyn)
}

func newHeaderWriter(keyID int32, t Type) *bitWriter {
	return &bitWriter{
		words: []uint64{uint64(keyID)&mask(keyBits) | uint64(t)<<keyBits},
		pos:   headerBits,
	}
}

// Encode converts a Go value into a property block. Strings and arrays too
// large for an inline block are written to the dynamic stores in dyn.
func Encode(keyID int32, value any, dyn DynamicStores) (Block, error) {
	if keyID < 0 || keyID > MaxKeyID {
		return Block{}, fmt.Errorf("key %d: %w", keyID, ErrInvalidKey)
	}
	var w *bitWriter
	switch v := value.(type) {
	case bool:
		w = newHeaderWriter(keyID, TypeBool)
		if v {
			w.put(1, 1)
		}
	case int8:
		w = newHeaderWriter(keyID, TypeByte)
		w.put(uint64(v), 8)
	case int16:
		w = newHeaderWriter(keyID, TypeShort)
		w.put(uint64(v), 16)
	case Char:
		w = newHeaderWriter(keyID, TypeChar)
		w.put(uint64(v), 16)
	case int32:
		w = newHeaderWriter(keyID, TypeInt)
		w.put(uint64(v), 32)
	case int:
		return encodeLong(keyID, int64(v)), nil
	case int64:
		return encodeLong(keyID, v), nil
	case float32:
		w = newHeaderWriter(keyID, TypeFloat)
		w.put(uint64(math.Float32bits(v)), 32)
	case float64:
		w = newHeaderWriter(keyID, TypeDouble)
		w.words = append(w.words, math.Float64bits(v))
	case string:
		if !utf8.ValidString(v) {
			return Block{}, fmt.Errorf("key %d: string is not valid UTF-8: %w", keyID, ErrUnsupportedValue)
		}
		if b, ok := encodeShortString(keyID, v); ok {
			return b, nil
		}
		return encodeDynamic(keyID, TypeString, dyn.Strings, dyn.BlockSize, []byte(v))
	case Point:
		return encodePoint(keyID, v)
	case []string:
		return encodeDynamic(keyID, TypeArray, dyn.Arrays, dyn.BlockSize, encodeStringArray(v))
	default:
		a, ok := flattenArray(value)
		if !ok {
			return Block{}, fmt.Errorf("key %d: %T: %w", keyID, value, ErrUnsupportedValue)
		}
		if b, ok := encodeShortArray(keyID, a); ok {
			return b, nil
		}
		return encodeDynamic(keyID, TypeArray, dyn.Arrays, dyn.BlockSize, encodeDynamicArray(a))
	}
	return Block{words: w.words}, nil
}

// encodeLong stores v inline when it fits in 35 signed bits, flagged by bit 28.
func encodeLong(keyID int32, v int64) Block {
	w := newHeaderWriter(keyID, TypeLong)
	if v >= -(1<<(inlineLongBits-1)) && v < 1<<(inlineLongBits-1) {
		w.put(1, 1)
		w.put(uint64(v), inlineLongBits)
		return Block{words: w.words}
	}
	w.words = append(w.words, uint64(v))
	return Block{words: w.words}
}

func encodePoint(keyID int32, p Point) (Block, error) {
	if len(p.Coords) == 0 || len(p.Coords) > MaxPointDimensions {
		return Block{}, fmt.Errorf("key %d: point with %d coordinates: %w", keyID, len(p.Coords), ErrValueTooLarge)
	}
	if p.CRS < 0 || p.CRS > math.MaxUint16 {
		return Block{}, fmt.Errorf("key %d: crs %d: %w", keyID, p.CRS, ErrUnsupportedValue)
	}
	w := newHeaderWriter(keyID, TypePoint)
	w.put(uint64(p.CRS), 16)
	w.put(uint64(len(p.Coords)), 4)
	for _, c := range p.Coords {
		w.words = append(w.words, math.Float64bits(c))
	}
	return Block{words: w.words}, nil
}

func encodeDynamic(keyID int32, t Type, store storage.Store[storage.DynamicRecord], blockSize int, data []byte) (Block, error) {
	if store == nil {
		return Block{}, fmt.Errorf("key %d: %s value needs a dynamic store: %w", keyID, t, ErrValueTooLarge)
	}
	first, err := storage.AllocateDynamic(store, blockSize, data)
	if err != nil {
		return Block{}, fmt.Errorf("key %d: %w", keyID, err)
	}
	w := newHeaderWriter(keyID, t)
	w.put(uint64(first), pointerBits)
	return Block{words: w.words}, nil
}

// blockWords returns the number of words of the block starting with header.
func blockWords(header uint64) (int, error) {
	t := Type(header >> keyBits & 0xF)
	switch t {
	case TypeLong:
		if header>>headerBits&1 == 1 {
			return 1, nil
		}
		return 2, nil
	case TypeDouble:
		return 2, nil
	case TypeShortString:
		return shortStringWords(header), nil
	case TypeShortArray:
		return shortArrayWords(header), nil
	case TypePoint:
		return 1 + int(header>>44&0xF), nil
	case TypeBool, TypeByte, TypeShort, TypeChar, TypeInt, TypeFloat, TypeString, TypeArray:
		return 1, nil
	default:
		return 0, fmt.Errorf("type tag %d: %w", uint8(t), ErrInvalidType)
	}
}

func decodeBlock(words []uint64, dyn DynamicStores) (any, error) {
	h := words[0]
	payload := h >> headerBits
	switch t := Type(h >> keyBits & 0xF); t {
	case TypeBool:
		return payload&1 == 1, nil
	case TypeByte:
		return int8(payload), nil
	case TypeShort:
		return int16(payload), nil
	case TypeChar:
		return Char(payload), nil
	case TypeInt:
		return int32(payload), nil
	case TypeLong:
		if payload&1 == 1 {
			return signExtend(payload>>1, inlineLongBits), nil
		}
		return int64(words[1]), nil
	case TypeFloat:
		return math.Float32frombits(uint32(payload)), nil
	case TypeDouble:
		return math.Float64frombits(words[1]), nil
	case TypeString:
		data, err := readDynamic(dyn.Strings, int64(payload&mask(pointerBits)))
		if err != nil {
			return nil, err
		}
		return string(data), nil
	case TypeArray:
		data, err := readDynamic(dyn.Arrays, int64(payload&mask(pointerBits)))
		if err != nil {
			return nil, err
		}
		return decodeDynamicArray(data)
	case TypeShortString:
		return decodeShortString(words)
	case TypeShortArray:
		return decodeShortArray(words)
	case TypePoint:
		p := Point{CRS: int32(payload & 0xFFFF)}
		dims := int(payload >> 16 & 0xF)
		p.Coords = make([]float64, dims)
		for i := range p.Coords {
			p.Coords[i] = math.Float64frombits(words[1+i])
		}
		return p, nil
	default:
		return nil, fmt.Errorf("type tag %d: %w", uint8(t), ErrInvalidType)
	}
}

func readDynamic(store storage.Store[storage.DynamicRecord], first int64) ([]byte, error) {
	if store == nil {
		return nil, fmt.Errorf("dynamic record %d: no dynamic store: %w", first, storage.ErrNotFound)
	}
	return storage.ReadDynamicChain(store, first, 0)
}
