package cursor

import (
	"fmt"
	"slices"

	"github.com/orneryd/nornicstore/pkg/storage"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

// LabelCursor enumerates the labels of one node from its label field.
//
// Inline fields are read in place, and a filtered lookup binary-searches the
// packed ids. Dynamic fields are decoded from the node's own label chain on
// the first Next; a filtered lookup answered by the transaction's diff never
// reads the chain.
type LabelCursor struct {
	lifecycle
	store  storage.Store[storage.DynamicRecord]
	field  uint64
	diff   txstate.LabelDiff
	filter int32

	labels []int32
	loaded bool
	pos    int
	cur    int32
}

// Init prepares the cursor. filter restricts the cursor to one label id;
// NoLabel enumerates all of them.
func (c *LabelCursor) Init(labelStore storage.Store[storage.DynamicRecord], field uint64, diff txstate.LabelDiff, filter int32, release func()) {
	c.open("label", release)
	c.store = labelStore
	c.field = field
	c.diff = diff
	c.filter = filter
	c.labels = c.labels[:0]
	c.loaded = false
	c.pos = 0
	c.cur = NoLabel
}

func (c *LabelCursor) load() error {
	c.loaded = true
	if c.filter != NoLabel {
		switch {
		case slices.Contains(c.diff.Removed, c.filter):
			return nil
		case slices.Contains(c.diff.Added, c.filter):
			c.labels = append(c.labels, c.filter)
			return nil
		case !storage.IsDynamicLabelField(c.field):
			if inlineContains(c.field, c.filter) {
				c.labels = append(c.labels, c.filter)
			}
			return nil
		}
	}

	var disk []int32
	if storage.IsDynamicLabelField(c.field) {
		var err error
		if disk, err = storage.ReadLabels(c.store, c.field); err != nil {
			return err
		}
	} else {
		disk = storage.InlineLabels(c.field)
	}
	merged := c.diff.Apply(disk)
	if c.filter != NoLabel {
		if _, ok := slices.BinarySearch(merged, c.filter); ok {
			c.labels = append(c.labels, c.filter)
		}
		return nil
	}
	c.labels = append(c.labels, merged...)
	return nil
}

// inlineContains binary-searches the ascending ids of an inline field.
func inlineContains(field uint64, label int32) bool {
	lo, hi := 0, storage.InlineLabelCount(field)
	for lo < hi {
		mid := int(uint(lo+hi) >> 1)
		switch v := storage.InlineLabelAt(field, mid); {
		case v == label:
			return true
		case v < label:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}

// Next advances to the next label.
func (c *LabelCursor) Next() bool {
	if !c.advancing() {
		return false
	}
	if !c.loaded {
		if err := c.load(); err != nil {
			c.exhaust(fmt.Errorf("labels: %w", err))
			return false
		}
	}
	if c.pos >= len(c.labels) {
		c.exhaust(nil)
		return false
	}
	c.cur = c.labels[c.pos]
	c.pos++
	c.positioned()
	return true
}

// Get returns the current label id.
func (c *LabelCursor) Get() (int32, error) {
	if err := c.check(); err != nil {
		return NoLabel, err
	}
	return c.cur, nil
}

// GetAsInt returns the current label id, or NoLabel when not positioned.
func (c *LabelCursor) GetAsInt() int32 {
	if c.state != statePositioned {
		return NoLabel
	}
	return c.cur
}

// Close releases the cursor. It is safe to call more than once.
func (c *LabelCursor) Close() error {
	if c.state == stateClosed {
		return nil
	}
	c.store = nil
	c.diff = txstate.LabelDiff{}
	c.labels = c.labels[:0]
	c.close()
	return nil
}
