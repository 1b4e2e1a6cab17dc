package property

import (
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orneryd/nornicstore/pkg/storage"
)

func newTestStores(t *testing.T, blockSize int) (*storage.Stores, DynamicStores) {
	t.Helper()
	stores := storage.NewMemoryStores(storage.Options{DynamicBlockSize: blockSize})
	t.Cleanup(func() { stores.Close() })
	return stores, FromStores(stores)
}

// roundTrip encodes value, writes it through a property chain and reads it
// back with a payload cursor.
func roundTrip(t *testing.T, stores *storage.Stores, dyn DynamicStores, value any) any {
	t.Helper()
	block, err := Encode(3, value, dyn)
	require.NoError(t, err)

	first, err := WriteChain(stores.Properties, []Block{block})
	require.NoError(t, err)
	rec, err := stores.Properties.Read(first)
	require.NoError(t, err)

	var pc PayloadCursor
	pc.Init(rec.Payload)
	require.True(t, pc.Next())
	assert.Equal(t, int32(3), pc.KeyID())
	got, err := pc.Value(dyn)
	require.NoError(t, err)
	assert.False(t, pc.Next())
	require.NoError(t, pc.Err())
	return got
}

func TestRoundTrip_Scalars(t *testing.T) {
	stores, dyn := newTestStores(t, 0)

	tests := []struct {
		name  string
		value any
		typ   Type
	}{
		{"bool_true", true, TypeBool},
		{"bool_false", false, TypeBool},
		{"byte_min", int8(math.MinInt8), TypeByte},
		{"byte_max", int8(math.MaxInt8), TypeByte},
		{"short_min", int16(math.MinInt16), TypeShort},
		{"short_max", int16(math.MaxInt16), TypeShort},
		{"char_max", Char(math.MaxUint16), TypeChar},
		{"int_min", int32(math.MinInt32), TypeInt},
		{"int_max", int32(math.MaxInt32), TypeInt},
		{"long_min", int64(math.MinInt64), TypeLong},
		{"long_max", int64(math.MaxInt64), TypeLong},
		{"long_inline_edge_low", int64(-(1 << 34)), TypeLong},
		{"long_inline_edge_high", int64(1<<34 - 1), TypeLong},
		{"long_just_past_inline", int64(1 << 34), TypeLong},
		{"float_max", float32(math.MaxFloat32), TypeFloat},
		{"float_smallest", float32(math.SmallestNonzeroFloat32), TypeFloat},
		{"float_negative_max", float32(-math.MaxFloat32), TypeFloat},
		{"double_max", math.MaxFloat64, TypeDouble},
		{"double_smallest", math.SmallestNonzeroFloat64, TypeDouble},
		{"double_negative_max", -math.MaxFloat64, TypeDouble},
		{"point_2d", Point{CRS: 7203, Coords: []float64{1.5, -2.25}}, TypePoint},
		{"point_3d", Point{CRS: 4979, Coords: []float64{12.5, 56.25, 1000}}, TypePoint},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, err := Encode(1, tt.value, dyn)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, block.Type())
			assert.Equal(t, tt.value, roundTrip(t, stores, dyn, tt.value))
		})
	}
}

func TestRoundTrip_LongInlineChoice(t *testing.T) {
	_, dyn := newTestStores(t, 0)

	small, err := Encode(1, int64(-5), dyn)
	require.NoError(t, err)
	assert.Equal(t, 1, small.Len())

	big, err := Encode(1, int64(1)<<40, dyn)
	require.NoError(t, err)
	assert.Equal(t, 2, big.Len())

	asInt, err := Encode(1, 42, dyn)
	require.NoError(t, err)
	v, err := asInt.Value(dyn)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestRoundTrip_Strings(t *testing.T) {
	stores, dyn := newTestStores(t, 16)

	tests := []struct {
		name  string
		value string
		typ   Type
	}{
		{"empty", "", TypeShortString},
		{"numerical", "-12.50, 7", TypeShortString},
		{"ascii", "Node", TypeShortString},
		{"ascii_longest_inline", strings.Repeat("x", 31), TypeShortString},
		{"ascii_too_long", strings.Repeat("x", 32), TypeString},
		{"multi_byte_inline", "日本語", TypeShortString},
		{"multi_byte_long", strings.Repeat("ünïcödé ", 20), TypeString},
		{"emoji_long", strings.Repeat("🙂", 40), TypeString},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, err := Encode(1, tt.value, dyn)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, block.Type())
			assert.Equal(t, tt.value, roundTrip(t, stores, dyn, tt.value))
		})
	}
}

func TestRoundTrip_Arrays(t *testing.T) {
	stores, dyn := newTestStores(t, 16)

	longInts := make([]int64, 100)
	for i := range longInts {
		longInts[i] = int64(i*i) - 5000
	}
	longStrings := []string{"alpha", "", "日本語", strings.Repeat("z", 300)}

	tests := []struct {
		name  string
		value any
		typ   Type
	}{
		{"empty_longs", []int64{}, TypeShortArray},
		{"bools", []bool{true, false, true}, TypeShortArray},
		{"bytes_extremes", []int8{math.MinInt8, 0, math.MaxInt8}, TypeShortArray},
		{"bytes_positive", []int8{1, 2, 3}, TypeShortArray},
		{"shorts", []int16{math.MinInt16, math.MaxInt16}, TypeShortArray},
		{"chars", []Char{'a', 'Z', 0xFFFF}, TypeShortArray},
		{"ints", []int32{math.MinInt32, -1, math.MaxInt32}, TypeShortArray},
		{"longs_extremes", []int64{math.MinInt64, math.MaxInt64}, TypeShortArray},
		{"floats", []float32{math.MaxFloat32, -1.5}, TypeShortArray},
		{"doubles", []float64{math.MaxFloat64, math.SmallestNonzeroFloat64, -3}, TypeShortArray},
		{"long_longs", longInts, TypeArray},
		{"many_bytes", make([]int8, 200), TypeArray},
		{"empty_strings", []string{}, TypeArray},
		{"strings", longStrings, TypeArray},
		{"long_doubles", []float64{1, 2, 3, 4, 5}, TypeArray},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			block, err := Encode(1, tt.value, dyn)
			require.NoError(t, err)
			assert.Equal(t, tt.typ, block.Type())
			assert.Equal(t, tt.value, roundTrip(t, stores, dyn, tt.value))
		})
	}

	t.Run("int_slice_is_stored_as_longs", func(t *testing.T) {
		assert.Equal(t, []int64{1, -2, 3}, roundTrip(t, stores, dyn, []int{1, -2, 3}))
	})
}

func TestEncode_Errors(t *testing.T) {
	_, dyn := newTestStores(t, 0)

	t.Run("unsupported_type", func(t *testing.T) {
		_, err := Encode(1, struct{}{}, dyn)
		assert.ErrorIs(t, err, ErrUnsupportedValue)
	})

	t.Run("point_with_four_dimensions", func(t *testing.T) {
		_, err := Encode(1, Point{CRS: 1, Coords: []float64{1, 2, 3, 4}}, dyn)
		assert.ErrorIs(t, err, ErrValueTooLarge)
	})

	t.Run("key_out_of_range", func(t *testing.T) {
		_, err := Encode(MaxKeyID+1, true, dyn)
		assert.ErrorIs(t, err, ErrInvalidKey)
	})

	t.Run("long_string_without_dynamic_store", func(t *testing.T) {
		_, err := Encode(1, strings.Repeat("x", 100), DynamicStores{})
		assert.ErrorIs(t, err, ErrValueTooLarge)
	})
}

func TestPayloadCursor(t *testing.T) {
	_, dyn := newTestStores(t, 0)

	t.Run("iterates_packed_blocks", func(t *testing.T) {
		var blocks []Block
		for i, v := range []any{true, int64(1) << 50, "ab"} {
			b, err := Encode(int32(10+i), v, dyn)
			require.NoError(t, err)
			blocks = append(blocks, b)
		}
		payloads, err := PackRecords(blocks)
		require.NoError(t, err)
		require.Len(t, payloads, 1)

		var pc PayloadCursor
		pc.Init(payloads[0])
		var keys []int32
		var types []Type
		for pc.Next() {
			keys = append(keys, pc.KeyID())
			types = append(types, pc.Type())
		}
		require.NoError(t, pc.Err())
		assert.Equal(t, []int32{10, 11, 12}, keys)
		assert.Equal(t, []Type{TypeBool, TypeLong, TypeShortString}, types)
	})

	t.Run("corrupt_type_tag_is_an_error", func(t *testing.T) {
		for _, tag := range []uint64{0, 14, 15} {
			var payload [storage.PropertyPayloadLongs]uint64
			payload[0] = 1 | tag<<24 | 1<<28 // non-zero header
			var pc PayloadCursor
			pc.Init(payload)
			assert.False(t, pc.Next())
			assert.ErrorIs(t, pc.Err(), ErrInvalidType, "tag %d", tag)
		}
	})

	t.Run("block_overrunning_payload_is_an_error", func(t *testing.T) {
		b, err := Encode(1, Point{CRS: 1, Coords: []float64{1, 2, 3}}, dyn)
		require.NoError(t, err)
		var payload [storage.PropertyPayloadLongs]uint64
		payload[0] = 7 | uint64(TypeBool)<<24
		payload[1] = b.Words()[0]
		var pc PayloadCursor
		pc.Init(payload)
		require.True(t, pc.Next())
		assert.False(t, pc.Next())
		assert.ErrorIs(t, pc.Err(), ErrInvalidType)
	})

	t.Run("clear_stops_iteration", func(t *testing.T) {
		b, err := Encode(1, int32(5), dyn)
		require.NoError(t, err)
		payloads, err := PackRecords([]Block{b, b})
		require.NoError(t, err)

		var pc PayloadCursor
		pc.Init(payloads[0])
		require.True(t, pc.Next())
		pc.Clear()
		assert.False(t, pc.Next())
		assert.NoError(t, pc.Err())

		pc.Init(payloads[0])
		assert.True(t, pc.Next())
		assert.True(t, pc.Next())
		assert.False(t, pc.Next())
	})
}

func TestPackRecords(t *testing.T) {
	_, dyn := newTestStores(t, 0)

	point, err := Encode(1, Point{CRS: 1, Coords: []float64{1, 2, 3}}, dyn) // 4 words
	require.NoError(t, err)
	double, err := Encode(2, 1.5, dyn) // 2 words
	require.NoError(t, err)
	flag, err := Encode(3, true, dyn) // 1 word
	require.NoError(t, err)

	payloads, err := PackRecords([]Block{double, point, flag, double})
	require.NoError(t, err)
	// blocks are never split: [double] [point] [flag double]
	require.Len(t, payloads, 3)
	assert.Equal(t, uint64(0), payloads[0][2])
	assert.Equal(t, flag.Words()[0], payloads[2][0])

	empty, err := PackRecords(nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
