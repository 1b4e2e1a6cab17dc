package property

import (
	"fmt"

	"github.com/orneryd/nornicstore/pkg/storage"
)

// PayloadCursor walks the blocks packed in one property record payload.
//
// A zero header word or the end of the payload ends iteration. A block with
// an unknown type tag stops the cursor and is reported by Err as
// ErrInvalidType; blocks after it cannot be located.
//
// Example:
//
//	var pc property.PayloadCursor
//	pc.Init(rec.Payload)
//	for pc.Next() {
//		v, err := pc.Value(dyn)
//		...
//	}
//	if err := pc.Err(); err != nil {
//		return err
//	}
type PayloadCursor struct {
	payload [storage.PropertyPayloadLongs]uint64
	pos     int
	cur     []uint64
	err     error
}

// Init positions the cursor before the first block of payload.
func (c *PayloadCursor) Init(payload [storage.PropertyPayloadLongs]uint64) {
	c.payload = payload
	c.pos = 0
	c.cur = nil
	c.err = nil
}

// Clear resets the cursor; Next returns false until the next Init.
func (c *PayloadCursor) Clear() {
	c.payload = [storage.PropertyPayloadLongs]uint64{}
	c.pos = len(c.payload)
	c.cur = nil
	c.err = nil
}

// Next advances to the next block.
func (c *PayloadCursor) Next() bool {
	if c.err != nil {
		return false
	}
	c.pos += len(c.cur)
	c.cur = nil
	if c.pos >= len(c.payload) {
		return false
	}
	h := c.payload[c.pos]
	if h == 0 {
		c.pos = len(c.payload)
		return false
	}
	n, err := blockWords(h)
	if err != nil {
		c.err = fmt.Errorf("payload word %d: %w", c.pos, err)
		return false
	}
	if c.pos+n > len(c.payload) {
		c.err = fmt.Errorf("payload word %d: %d-word block overruns payload: %w", c.pos, n, ErrInvalidType)
		return false
	}
	c.cur = c.payload[c.pos : c.pos+n]
	return true
}

// Err returns the error that stopped the cursor, if any.
func (c *PayloadCursor) Err() error { return c.err }

// Block returns a copy of the current block.
func (c *PayloadCursor) Block() Block {
	return Block{words: append([]uint64(nil), c.cur...)}
}

// KeyID returns the key id of the current block.
func (c *PayloadCursor) KeyID() int32 { return int32(c.cur[0] & mask(keyBits)) }

// Type returns the type tag of the current block.
func (c *PayloadCursor) Type() Type { return Type(c.cur[0] >> keyBits & 0xF) }

// Value decodes the current block.
func (c *PayloadCursor) Value(dyn DynamicStores) (any, error) {
	return decodeBlock(c.cur, dyn)
}
