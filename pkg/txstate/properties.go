package txstate

import (
	"maps"
	"slices"
)

// PropertyDiff is the set of property changes made to one entity.
//
// Merge policy when reading an entity's properties through the overlay:
// every key present in the diff (added, changed or removed) hides all
// committed blocks with that key, wherever they sit in the property chain.
// The added and changed values are then emitted after the surviving
// committed properties, ordered by key id.
type PropertyDiff struct {
	Added   map[int32]any
	Changed map[int32]any
	Removed map[int32]struct{}
}

// KeyValue is one property emitted by the overlay.
type KeyValue struct {
	Key   int32
	Value any
}

func newPropertyDiff() *PropertyDiff {
	return &PropertyDiff{
		Added:   make(map[int32]any),
		Changed: make(map[int32]any),
		Removed: make(map[int32]struct{}),
	}
}

// IsEmpty reports whether the diff changes nothing.
func (d *PropertyDiff) IsEmpty() bool {
	return d == nil || len(d.Added)+len(d.Changed)+len(d.Removed) == 0
}

// Hides reports whether committed blocks with key must be skipped.
func (d *PropertyDiff) Hides(key int32) bool {
	if d == nil {
		return false
	}
	if _, ok := d.Added[key]; ok {
		return true
	}
	if _, ok := d.Changed[key]; ok {
		return true
	}
	_, ok := d.Removed[key]
	return ok
}

// Lookup returns the overlay value of key. removed is true when the key was
// removed in the transaction; found is false when the overlay does not know
// the key and the committed value applies.
func (d *PropertyDiff) Lookup(key int32) (value any, removed, found bool) {
	if d == nil {
		return nil, false, false
	}
	if v, ok := d.Added[key]; ok {
		return v, false, true
	}
	if v, ok := d.Changed[key]; ok {
		return v, false, true
	}
	if _, ok := d.Removed[key]; ok {
		return nil, true, true
	}
	return nil, false, false
}

// Values returns the added and changed properties ordered by key.
func (d *PropertyDiff) Values() []KeyValue {
	if d == nil {
		return nil
	}
	out := make([]KeyValue, 0, len(d.Added)+len(d.Changed))
	for k, v := range d.Added {
		out = append(out, KeyValue{Key: k, Value: v})
	}
	for k, v := range d.Changed {
		out = append(out, KeyValue{Key: k, Value: v})
	}
	slices.SortFunc(out, func(a, b KeyValue) int { return int(a.Key) - int(b.Key) })
	return out
}

func (d *PropertyDiff) clone() *PropertyDiff {
	if d == nil {
		return nil
	}
	return &PropertyDiff{
		Added:   maps.Clone(d.Added),
		Changed: maps.Clone(d.Changed),
		Removed: maps.Clone(d.Removed),
	}
}

// add records a key that did not exist before the transaction. A key
// removed earlier in the transaction existed, so it becomes a change.
func (d *PropertyDiff) add(key int32, value any) {
	if _, ok := d.Removed[key]; ok {
		delete(d.Removed, key)
		d.Changed[key] = value
		return
	}
	d.Added[key] = value
}

func (d *PropertyDiff) change(key int32, value any) {
	delete(d.Removed, key)
	if _, ok := d.Added[key]; ok {
		d.Added[key] = value
		return
	}
	d.Changed[key] = value
}

func (d *PropertyDiff) remove(key int32) {
	if _, ok := d.Added[key]; ok {
		delete(d.Added, key)
		return
	}
	delete(d.Changed, key)
	d.Removed[key] = struct{}{}
}

func diffFor(m map[int64]*PropertyDiff, id int64) *PropertyDiff {
	d, ok := m[id]
	if !ok {
		d = newPropertyDiff()
		m[id] = d
	}
	return d
}

// NodeDoAddProperty records a new property on node.
func (s *State) NodeDoAddProperty(node int64, key int32, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	diffFor(s.nodeProps, node).add(key, value)
}

// NodeDoChangeProperty records a new value for an existing property of node.
func (s *State) NodeDoChangeProperty(node int64, key int32, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	diffFor(s.nodeProps, node).change(key, value)
}

// NodeDoRemoveProperty records the removal of a property of node.
func (s *State) NodeDoRemoveProperty(node int64, key int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	diffFor(s.nodeProps, node).remove(key)
}

// RelationshipDoAddProperty records a new property on a relationship.
func (s *State) RelationshipDoAddProperty(rel int64, key int32, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	diffFor(s.relProps, rel).add(key, value)
}

// RelationshipDoChangeProperty records a new value for an existing
// relationship property.
func (s *State) RelationshipDoChangeProperty(rel int64, key int32, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	diffFor(s.relProps, rel).change(key, value)
}

// RelationshipDoRemoveProperty records the removal of a relationship property.
func (s *State) RelationshipDoRemoveProperty(rel int64, key int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	diffFor(s.relProps, rel).remove(key)
}

// NodePropertyDiff returns a snapshot of the property changes of node, or
// nil when there are none.
func (s *State) NodePropertyDiff(node int64) *PropertyDiff {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodeProps[node].clone()
}

// RelationshipPropertyDiff returns a snapshot of the property changes of a
// relationship, or nil when there are none.
func (s *State) RelationshipPropertyDiff(rel int64) *PropertyDiff {
	if s == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.relProps[rel].clone()
}
