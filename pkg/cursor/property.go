package cursor

import (
	"fmt"

	"github.com/orneryd/nornicstore/pkg/metrics"
	"github.com/orneryd/nornicstore/pkg/property"
	"github.com/orneryd/nornicstore/pkg/storage"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

// NoKey disables the key filter of a PropertyCursor.
const NoKey int32 = -1

// PropertyCursor walks the property record chain of one entity and decodes
// its blocks, merging the transaction's property diff.
//
// Records that are not in use are stepped over and their NextProp followed.
// Committed blocks whose key appears in the diff are hidden; the diff's
// added and changed values follow the committed ones in key order.
//
// The cursor owns the lock passed to Init and releases it on Close. The
// assertOpen callback runs before each step so a cursor outliving its
// transaction fails instead of reading on.
type PropertyCursor struct {
	lifecycle
	stores     *storage.Stores
	dyn        property.DynamicStores
	lock       storage.Lock
	assertOpen func() error
	diff       *txstate.PropertyDiff
	key        int32

	next    int64
	steps   int64
	limit   int64
	holes   int64
	payload property.PayloadCursor
	inRec   bool

	overlay   []txstate.KeyValue
	inOverlay bool

	cur PropertyItem
}

// Init positions the cursor before the first property of the chain starting
// at first. lock and assertOpen may be nil; key restricts the cursor to one
// property key, NoKey visits all.
func (c *PropertyCursor) Init(stores *storage.Stores, first int64, lock storage.Lock, assertOpen func() error, diff *txstate.PropertyDiff, key int32, release func()) {
	c.open("property", release)
	c.stores = stores
	c.dyn = property.FromStores(stores)
	c.lock = lock
	c.assertOpen = assertOpen
	c.diff = diff
	c.key = key
	c.next = first
	c.steps = 0
	c.limit = storage.ChainLimit(stores.Properties)
	c.holes = 0
	c.payload.Clear()
	c.inRec = false
	c.overlay = diff.Values()
	c.inOverlay = false
	c.cur = PropertyItem{}
}

// Next advances to the next visible property.
func (c *PropertyCursor) Next() bool {
	if !c.advancing() {
		return false
	}
	if c.assertOpen != nil {
		if err := c.assertOpen(); err != nil {
			c.finish(err)
			return false
		}
	}
	for !c.inOverlay {
		if c.inRec {
			if c.nextBlock() {
				return true
			}
			if c.state == stateExhausted {
				return false
			}
			c.inRec = false
		}
		if c.next == storage.NoID {
			c.inOverlay = true
			break
		}
		if c.steps >= c.limit {
			c.finish(fmt.Errorf("property chain: more than %d steps: %w", c.limit, storage.ErrChainCycle))
			return false
		}
		c.steps++
		rec, err := c.stores.Properties.Read(c.next)
		if err != nil {
			c.finish(fmt.Errorf("property record %d: %w", c.next, err))
			return false
		}
		c.next = rec.NextProp
		if !rec.InUse {
			c.holes++
			continue
		}
		c.payload.Init(rec.Payload)
		c.inRec = true
	}

	for len(c.overlay) > 0 {
		kv := c.overlay[0]
		c.overlay = c.overlay[1:]
		if c.key != NoKey && kv.Key != c.key {
			continue
		}
		c.cur = PropertyItem{KeyID: kv.Key, Value: kv.Value, Added: true}
		c.positioned()
		return true
	}
	c.finish(nil)
	return false
}

// nextBlock positions on the next visible block of the current record.
func (c *PropertyCursor) nextBlock() bool {
	for c.payload.Next() {
		key := c.payload.KeyID()
		if (c.key != NoKey && key != c.key) || c.diff.Hides(key) {
			continue
		}
		v, err := c.payload.Value(c.dyn)
		if err != nil {
			c.finish(fmt.Errorf("property key %d: %w", key, err))
			return false
		}
		c.cur = PropertyItem{KeyID: key, Value: v, Type: c.payload.Type()}
		c.positioned()
		return true
	}
	if err := c.payload.Err(); err != nil {
		c.finish(err)
	}
	return false
}

func (c *PropertyCursor) finish(err error) {
	if c.holes > 0 {
		metrics.ChainHolesSkipped.WithLabelValues(storage.KindProperty.String()).Add(float64(c.holes))
		c.holes = 0
	}
	c.exhaust(err)
}

// Get returns the current property.
func (c *PropertyCursor) Get() (PropertyItem, error) {
	if err := c.check(); err != nil {
		return PropertyItem{}, err
	}
	return c.cur, nil
}

// Clear resets the cursor to its uninitialized state, however far the chain
// was consumed, and releases the lock. The release callback does not run.
func (c *PropertyCursor) Clear() {
	if c.lock != nil {
		c.lock.Release()
		c.lock = nil
	}
	c.stores = nil
	c.dyn = property.DynamicStores{}
	c.assertOpen = nil
	c.diff = nil
	c.next = storage.NoID
	c.payload.Clear()
	c.inRec, c.inOverlay = false, false
	c.overlay = nil
	c.cur = PropertyItem{}
	if c.state != stateClosed {
		c.state = stateIdle
	}
}

// Close releases the lock and the cursor. It is safe to call more than once.
func (c *PropertyCursor) Close() error {
	if c.state == stateClosed {
		return nil
	}
	c.Clear()
	c.close()
	return nil
}
