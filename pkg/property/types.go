// Package property implements the property value model and the block codec
// used inside property records.
//
// A property record payload holds up to storage.PropertyPayloadLongs 64-bit
// words. Each property occupies one block of one or more consecutive words.
// The first word of a block is the header:
//
//	bits  0-23  property key id
//	bits 24-27  type tag
//	bits 28-63  type-specific payload
//
// Values that fit are stored inline in the block; long strings and arrays
// are moved to the string or array dynamic store and the block holds the id
// of the first dynamic record.
//
// Supported Go values:
//
//	bool, int8, int16, Char, int32, int64 (int is stored as int64),
//	float32, float64, string, Point, and slices of every scalar
//	including []string.
//
// Example:
//
//	dyn := property.DynamicStores{Strings: stores.Strings, Arrays: stores.Arrays, BlockSize: stores.BlockSize}
//	block, err := property.Encode(7, "Node", dyn)
//	if err != nil {
//		return err
//	}
//	first, err := property.WriteChain(stores.Properties, []property.Block{block})
package property

import (
	"errors"
	"fmt"

	"github.com/orneryd/nornicstore/pkg/storage"
)

// Type is the 4-bit type tag of a property block.
type Type uint8

const (
	TypeBool        Type = 1
	TypeByte        Type = 2
	TypeShort       Type = 3
	TypeChar        Type = 4
	TypeInt         Type = 5
	TypeLong        Type = 6
	TypeFloat       Type = 7
	TypeDouble      Type = 8
	TypeString      Type = 9
	TypeArray       Type = 10
	TypeShortString Type = 11
	TypeShortArray  Type = 12
	TypePoint       Type = 13
)

var typeNames = [...]string{
	TypeBool:        "BOOL",
	TypeByte:        "BYTE",
	TypeShort:       "SHORT",
	TypeChar:        "CHAR",
	TypeInt:         "INT",
	TypeLong:        "LONG",
	TypeFloat:       "FLOAT",
	TypeDouble:      "DOUBLE",
	TypeString:      "STRING",
	TypeArray:       "ARRAY",
	TypeShortString: "SHORT_STRING",
	TypeShortArray:  "SHORT_ARRAY",
	TypePoint:       "POINT",
}

// Valid reports whether t is a known type tag.
func (t Type) Valid() bool { return t >= TypeBool && t <= TypePoint }

func (t Type) String() string {
	if t.Valid() {
		return typeNames[t]
	}
	return fmt.Sprintf("TYPE(%d)", uint8(t))
}

// Errors
var (
	// ErrInvalidType is returned for a block whose type tag is unknown.
	// It indicates a corrupted property record.
	ErrInvalidType = errors.New("invalid property type")

	// ErrUnsupportedValue is returned when encoding a Go value that has no
	// property representation.
	ErrUnsupportedValue = errors.New("unsupported property value")

	// ErrValueTooLarge is returned for values that exceed a hard limit of the
	// format, such as points with more than three coordinates.
	ErrValueTooLarge = errors.New("property value too large")

	// ErrInvalidKey is returned for key ids outside the 24-bit key range.
	ErrInvalidKey = errors.New("invalid property key")
)

// Char is a UTF-16 code unit stored with TypeChar.
type Char uint16

// Point is a spatial value: a coordinate reference system id and two or
// three coordinates.
type Point struct {
	CRS    int32
	Coords []float64
}

// MaxPointDimensions is the largest number of coordinates a Point may carry.
const MaxPointDimensions = 3

// MaxKeyID is the largest property key id a block can address.
const MaxKeyID = 1<<24 - 1

// DynamicStores are the overflow stores used for long strings and arrays.
type DynamicStores struct {
	Strings   storage.Store[storage.DynamicRecord]
	Arrays    storage.Store[storage.DynamicRecord]
	BlockSize int
}

// FromStores returns the dynamic stores of a store bundle.
func FromStores(s *storage.Stores) DynamicStores {
	return DynamicStores{Strings: s.Strings, Arrays: s.Arrays, BlockSize: s.BlockSize}
}
