package property

import "encoding/binary"

func mask(n uint) uint64 {
	if n >= 64 {
		return ^uint64(0)
	}
	return 1<<n - 1
}

// signExtend interprets the low n bits of v as a two's complement number.
func signExtend(v uint64, n uint) int64 {
	s := 64 - n
	return int64(v<<s) >> s
}

// bitWriter appends little-endian bit fields across a growing word slice.
type bitWriter struct {
	words []uint64
	pos   uint
}

func (w *bitWriter) put(v uint64, n uint) {
	v &= mask(n)
	for n > 0 {
		i, off := w.pos/64, w.pos%64
		for int(i) >= len(w.words) {
			w.words = append(w.words, 0)
		}
		take := 64 - off
		if take > n {
			take = n
		}
		w.words[i] |= (v & mask(take)) << off
		v >>= take
		n -= take
		w.pos += take
	}
}

// bytes returns the written bits as little-endian bytes, trimmed to the
// last byte that holds a written bit.
func (w *bitWriter) bytes() []byte {
	out := make([]byte, len(w.words)*8)
	for i, word := range w.words {
		binary.LittleEndian.PutUint64(out[i*8:], word)
	}
	return out[:(w.pos+7)/8]
}

// bitReader reads fields written by bitWriter. Reads past the end yield zero bits.
type bitReader struct {
	words []uint64
	pos   uint
}

func newByteReader(b []byte) *bitReader {
	words := make([]uint64, (len(b)+7)/8)
	padded := make([]byte, len(words)*8)
	copy(padded, b)
	for i := range words {
		words[i] = binary.LittleEndian.Uint64(padded[i*8:])
	}
	return &bitReader{words: words}
}

func (r *bitReader) get(n uint) uint64 {
	var v uint64
	var shift uint
	for n > 0 {
		i, off := r.pos/64, r.pos%64
		take := 64 - off
		if take > n {
			take = n
		}
		var word uint64
		if int(i) < len(r.words) {
			word = r.words[i]
		}
		v |= ((word >> off) & mask(take)) << shift
		shift += take
		n -= take
		r.pos += take
	}
	return v
}

// wordsFor returns the number of 64-bit words needed to hold bits.
func wordsFor(bits uint) int {
	return int((bits + 63) / 64)
}
