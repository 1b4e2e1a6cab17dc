package storage

import (
	"fmt"

	"github.com/orneryd/nornicstore/pkg/metrics"
)

// ChainLimit returns the largest number of distinct records a chain in store
// can visit. A walk that takes more steps than this has looped.
func ChainLimit(store HighWater) int64 {
	if n := store.HighestIDInUse() + 1; n > 0 {
		return n
	}
	return 1
}

// ReadDynamicChain concatenates the data of the dynamic record chain starting
// at first.
//
// Not-in-use records are stepped over: their data is ignored but their Next
// link is followed, so fragments after a hole are still collected. maxSteps
// bounds the walk; zero or less means ChainLimit(store). Exceeding the bound
// fails with ErrChainCycle.
func ReadDynamicChain(store Store[DynamicRecord], first int64, maxSteps int64) ([]byte, error) {
	if first == NoID {
		return nil, nil
	}
	if maxSteps <= 0 {
		maxSteps = ChainLimit(store)
	}
	var out []byte
	var steps, holes int64
	for id := first; id != NoID; {
		if steps >= maxSteps {
			return nil, fmt.Errorf("%s chain from %d: more than %d steps: %w",
				store.Kind(), first, maxSteps, ErrChainCycle)
		}
		steps++
		rec, err := store.Read(id)
		if err != nil {
			return nil, err
		}
		if rec.InUse {
			out = append(out, rec.Data...)
		} else {
			holes++
		}
		id = rec.Next
	}
	if holes > 0 {
		metrics.ChainHolesSkipped.WithLabelValues(store.Kind().String()).Add(float64(holes))
	}
	return out, nil
}

// AllocateDynamic splits data into block-sized records linked in order and
// writes them to store. It returns the id of the first record, or NoID for
// empty data.
func AllocateDynamic(store Store[DynamicRecord], blockSize int, data []byte) (int64, error) {
	if len(data) == 0 {
		return NoID, nil
	}
	if blockSize <= 0 {
		blockSize = DefaultDynamicBlockSize
	}
	n := (len(data) + blockSize - 1) / blockSize
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = store.NextID()
	}
	// Write back to front so a reader never follows a link to an unwritten record.
	for i := n - 1; i >= 0; i-- {
		end := (i + 1) * blockSize
		if end > len(data) {
			end = len(data)
		}
		next := NoID
		if i+1 < n {
			next = ids[i+1]
		}
		chunk := make([]byte, end-i*blockSize)
		copy(chunk, data[i*blockSize:end])
		if err := store.Write(DynamicRecord{ID: ids[i], InUse: true, Data: chunk, Next: next}); err != nil {
			return NoID, fmt.Errorf("allocate %s chain: %w", store.Kind(), err)
		}
	}
	return ids[0], nil
}

// DynamicChainIDs returns the record ids of the chain starting at first,
// including not-in-use records. It is used by writers that need to free or
// rewrite a chain.
func DynamicChainIDs(store Store[DynamicRecord], first int64) ([]int64, error) {
	limit := ChainLimit(store)
	var ids []int64
	for id := first; id != NoID; {
		if int64(len(ids)) >= limit {
			return nil, fmt.Errorf("%s chain from %d: %w", store.Kind(), first, ErrChainCycle)
		}
		rec, err := store.Read(id)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
		id = rec.Next
	}
	return ids, nil
}
