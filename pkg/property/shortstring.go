package property

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Short string block layout (after the 28-bit header prefix):
//
//	bits 28-32  encoding
//	bits 33-38  length in characters (bytes for utf8)
//	bits 39-    packed characters
const (
	shortStringDataOffset = 39
	maxShortStringLength  = 63
)

type stringEncoding uint8

const (
	encodingNumerical stringEncoding = 1
	encodingASCII     stringEncoding = 2
	encodingUTF8      stringEncoding = 3
)

const numericalAlphabet = "0123456789 .-+,'"

func (e stringEncoding) bits() uint {
	switch e {
	case encodingNumerical:
		return 4
	case encodingASCII:
		return 7
	default:
		return 8
	}
}

// pickEncoding returns the narrowest encoding able to represent s.
func pickEncoding(s string) stringEncoding {
	numerical := true
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= utf8.RuneSelf {
			return encodingUTF8
		}
		if numerical && strings.IndexByte(numericalAlphabet, c) < 0 {
			numerical = false
		}
	}
	if numerical {
		return encodingNumerical
	}
	return encodingASCII
}

// encodeShortString packs s into a block. ok is false when it does not fit.
func encodeShortString(keyID int32, s string) (Block, bool) {
	enc := pickEncoding(s)
	n := uint(len(s))
	if n > maxShortStringLength || shortStringDataOffset+n*enc.bits() > blockBits {
		return Block{}, false
	}
	w := newHeaderWriter(keyID, TypeShortString)
	w.put(uint64(enc), 5)
	w.put(uint64(n), 6)
	for i := 0; i < len(s); i++ {
		c := uint64(s[i])
		if enc == encodingNumerical {
			c = uint64(strings.IndexByte(numericalAlphabet, s[i]))
		}
		w.put(c, enc.bits())
	}
	return Block{words: w.words}, true
}

func decodeShortString(words []uint64) (string, error) {
	r := &bitReader{words: words, pos: headerBits}
	enc := stringEncoding(r.get(5))
	if enc < encodingNumerical || enc > encodingUTF8 {
		return "", fmt.Errorf("short string encoding %d: %w", enc, ErrInvalidType)
	}
	n := int(r.get(6))
	buf := make([]byte, n)
	for i := range buf {
		c := r.get(enc.bits())
		if enc == encodingNumerical {
			buf[i] = numericalAlphabet[c]
		} else {
			buf[i] = byte(c)
		}
	}
	return string(buf), nil
}

// shortStringWords returns the block length of a short string from its header.
func shortStringWords(header uint64) int {
	enc := stringEncoding(header >> 28 & mask(5))
	n := uint(header >> 33 & mask(6))
	return wordsFor(shortStringDataOffset + n*enc.bits())
}
