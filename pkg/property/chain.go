package property

import (
	"fmt"

	"github.com/orneryd/nornicstore/pkg/storage"
)

// PackRecords lays blocks out, in order, into as few record payloads as
// possible without splitting a block across records.
func PackRecords(blocks []Block) ([][storage.PropertyPayloadLongs]uint64, error) {
	var out [][storage.PropertyPayloadLongs]uint64
	used := storage.PropertyPayloadLongs
	for _, b := range blocks {
		n := b.Len()
		if n == 0 {
			return nil, fmt.Errorf("empty block: %w", ErrInvalidType)
		}
		if n > storage.PropertyPayloadLongs {
			return nil, fmt.Errorf("key %d: %d-word block: %w", b.KeyID(), n, ErrValueTooLarge)
		}
		if used+n > storage.PropertyPayloadLongs {
			out = append(out, [storage.PropertyPayloadLongs]uint64{})
			used = 0
		}
		copy(out[len(out)-1][used:], b.words)
		used += n
	}
	return out, nil
}

// WriteChain packs blocks into a new property record chain and returns the
// id of its first record, or storage.NoID when there are no blocks.
func WriteChain(props storage.Store[storage.PropertyRecord], blocks []Block) (int64, error) {
	payloads, err := PackRecords(blocks)
	if err != nil {
		return storage.NoID, err
	}
	if len(payloads) == 0 {
		return storage.NoID, nil
	}
	ids := make([]int64, len(payloads))
	for i := range ids {
		ids[i] = props.NextID()
	}
	for i := len(payloads) - 1; i >= 0; i-- {
		rec := storage.PropertyRecord{
			ID:       ids[i],
			InUse:    true,
			PrevProp: storage.NoID,
			NextProp: storage.NoID,
			Payload:  payloads[i],
		}
		if i > 0 {
			rec.PrevProp = ids[i-1]
		}
		if i+1 < len(ids) {
			rec.NextProp = ids[i+1]
		}
		if err := props.Write(rec); err != nil {
			return storage.NoID, fmt.Errorf("write property chain: %w", err)
		}
	}
	return ids[0], nil
}
