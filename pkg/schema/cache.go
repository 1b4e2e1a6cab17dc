package schema

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/btree"

	"github.com/orneryd/nornicstore/pkg/metrics"
)

// Cache is an in-memory index over the known schema rules.
//
// Every mutation builds a new immutable state under a single mutex and
// publishes it with an atomic pointer swap. Readers load the current state
// without locking and always see a complete state, either before or after
// any given mutation, never one in progress. Concurrent AddSchemaRule and
// RemoveSchemaRule calls are serialized, so none of them is lost.
//
// Example:
//
//	cache := schema.NewCache(rules...)
//	for _, c := range cache.ConstraintsForLabel(label) {
//		fmt.Println(c)
//	}
//
// Thread Safety:
//
//	All methods are safe for concurrent use.
type Cache struct {
	mu    sync.Mutex
	state atomic.Pointer[state]
	log   *logrus.Entry
}

// state is immutable once published.
type state struct {
	indexes     *btree.Map[int64, IndexRule]
	constraints *btree.Map[int64, ConstraintRule]

	indexesBySchema      map[string][]IndexRule
	indexesByLabel       map[int32][]IndexRule
	indexesByRelType     map[int32][]IndexRule
	indexesByName        map[string]IndexRule
	constraintsBySchema  map[string][]ConstraintRule
	constraintsByLabel   map[int32][]ConstraintRule
	constraintsByRelType map[int32][]ConstraintRule
	constraintsByName    map[string]ConstraintRule
}

// NewCache creates a cache holding rules. Invalid rules are skipped with a
// warning.
func NewCache(rules ...Rule) *Cache {
	c := &Cache{log: logrus.WithField("component", "schema")}
	c.Load(rules)
	return c
}

// Load replaces the cache contents with rules.
func (c *Cache) Load(rules []Rule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	indexes := &btree.Map[int64, IndexRule]{}
	constraints := &btree.Map[int64, ConstraintRule]{}
	for _, r := range rules {
		if err := validateRule(r); err != nil {
			c.log.WithError(err).Warn("Skipping schema rule")
			continue
		}
		put(indexes, constraints, r)
	}
	c.publish(indexes, constraints)
	c.log.WithFields(logrus.Fields{
		"indexes":     indexes.Len(),
		"constraints": constraints.Len(),
	}).Debug("Schema cache loaded")
}

// AddSchemaRule adds or replaces the rule with r's id. Adding the same rule
// twice leaves a single entry.
func (c *Cache) AddSchemaRule(r Rule) error {
	if err := validateRule(r); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	indexes, constraints := cur.indexes.Copy(), cur.constraints.Copy()
	put(indexes, constraints, r)
	c.publish(indexes, constraints)
	c.log.WithField("rule", r).Debug("Schema rule added")
	return nil
}

// RemoveSchemaRule removes the rule with id and reports whether one existed.
func (c *Cache) RemoveSchemaRule(id int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	_, isIndex := cur.indexes.Get(id)
	_, isConstraint := cur.constraints.Get(id)
	if !isIndex && !isConstraint {
		return false
	}
	indexes, constraints := cur.indexes.Copy(), cur.constraints.Copy()
	indexes.Delete(id)
	constraints.Delete(id)
	c.publish(indexes, constraints)
	c.log.WithField("rule_id", id).Debug("Schema rule removed")
	return true
}

// Snapshot returns an independent cache starting from the current rules.
// Later changes to either cache do not affect the other.
func (c *Cache) Snapshot() *Cache {
	c.mu.Lock()
	cur := c.state.Load()
	next := *cur
	next.indexes, next.constraints = cur.indexes.Copy(), cur.constraints.Copy()
	c.mu.Unlock()

	s := &Cache{log: c.log}
	s.state.Store(&next)
	return s
}

// put stores r, dropping any rule of the other kind with the same id.
func put(indexes *btree.Map[int64, IndexRule], constraints *btree.Map[int64, ConstraintRule], r Rule) {
	switch v := r.(type) {
	case *IndexRule:
		put(indexes, constraints, *v)
	case *ConstraintRule:
		put(indexes, constraints, *v)
	case IndexRule:
		v.Schema = v.Schema.clone()
		constraints.Delete(v.ID)
		indexes.Set(v.ID, v)
	case ConstraintRule:
		v.Schema = v.Schema.clone()
		indexes.Delete(v.ID)
		constraints.Set(v.ID, v)
	}
}

// publish rebuilds the derived lookups from the primary maps and swaps the
// new state in. Callers hold c.mu.
func (c *Cache) publish(indexes *btree.Map[int64, IndexRule], constraints *btree.Map[int64, ConstraintRule]) {
	s := &state{
		indexes:              indexes,
		constraints:          constraints,
		indexesBySchema:      make(map[string][]IndexRule),
		indexesByLabel:       make(map[int32][]IndexRule),
		indexesByRelType:     make(map[int32][]IndexRule),
		indexesByName:        make(map[string]IndexRule),
		constraintsBySchema:  make(map[string][]ConstraintRule),
		constraintsByLabel:   make(map[int32][]ConstraintRule),
		constraintsByRelType: make(map[int32][]ConstraintRule),
		constraintsByName:    make(map[string]ConstraintRule),
	}
	// Scans run in id order, so every derived slice is sorted by id.
	indexes.Scan(func(_ int64, r IndexRule) bool {
		key := r.Schema.key()
		s.indexesBySchema[key] = append(s.indexesBySchema[key], r)
		if r.Schema.EntityType == EntityRelationship {
			s.indexesByRelType[r.Schema.EntityToken] = append(s.indexesByRelType[r.Schema.EntityToken], r)
		} else {
			s.indexesByLabel[r.Schema.EntityToken] = append(s.indexesByLabel[r.Schema.EntityToken], r)
		}
		if r.Name != "" {
			s.indexesByName[r.Name] = r
		}
		return true
	})
	constraints.Scan(func(_ int64, r ConstraintRule) bool {
		key := r.Schema.key()
		s.constraintsBySchema[key] = append(s.constraintsBySchema[key], r)
		if r.Schema.EntityType == EntityRelationship {
			s.constraintsByRelType[r.Schema.EntityToken] = append(s.constraintsByRelType[r.Schema.EntityToken], r)
		} else {
			s.constraintsByLabel[r.Schema.EntityToken] = append(s.constraintsByLabel[r.Schema.EntityToken], r)
		}
		if r.Name != "" {
			s.constraintsByName[r.Name] = r
		}
		return true
	})
	c.state.Store(s)
	metrics.SchemaRules.WithLabelValues("index").Set(float64(indexes.Len()))
	metrics.SchemaRules.WithLabelValues("constraint").Set(float64(constraints.Len()))
}

// =============================================================================
// Queries
// =============================================================================

// IndexRules returns all index rules ordered by id.
func (c *Cache) IndexRules() []IndexRule {
	s := c.state.Load()
	out := make([]IndexRule, 0, s.indexes.Len())
	s.indexes.Scan(func(_ int64, r IndexRule) bool {
		out = append(out, r)
		return true
	})
	return out
}

// ConstraintRules returns all constraint rules ordered by id.
func (c *Cache) ConstraintRules() []ConstraintRule {
	s := c.state.Load()
	out := make([]ConstraintRule, 0, s.constraints.Len())
	s.constraints.Scan(func(_ int64, r ConstraintRule) bool {
		out = append(out, r)
		return true
	})
	return out
}

// Index returns the index rule with id.
func (c *Cache) Index(id int64) (IndexRule, bool) {
	return c.state.Load().indexes.Get(id)
}

// Constraint returns the constraint rule with id.
func (c *Cache) Constraint(id int64) (ConstraintRule, bool) {
	return c.state.Load().constraints.Get(id)
}

// HasConstraintRule reports whether a constraint rule with id exists.
func (c *Cache) HasConstraintRule(id int64) bool {
	_, ok := c.Constraint(id)
	return ok
}

// Require returns the rule with id, index or constraint, or ErrRuleNotFound.
func (c *Cache) Require(id int64) (Rule, error) {
	if r, ok := c.Index(id); ok {
		return r, nil
	}
	if r, ok := c.Constraint(id); ok {
		return r, nil
	}
	return nil, fmt.Errorf("rule %d: %w", id, ErrRuleNotFound)
}

// IndexForSchema returns the index with exactly descriptor d. When several
// indexes share a descriptor the one with the lowest id wins.
func (c *Cache) IndexForSchema(d Descriptor) (IndexRule, bool) {
	rules := c.state.Load().indexesBySchema[d.key()]
	if len(rules) == 0 {
		return IndexRule{}, false
	}
	return rules[0], true
}

// IndexesForSchema returns every index with exactly descriptor d.
func (c *Cache) IndexesForSchema(d Descriptor) []IndexRule {
	return clone(c.state.Load().indexesBySchema[d.key()])
}

// IndexesForLabel returns the node indexes under label.
func (c *Cache) IndexesForLabel(label int32) []IndexRule {
	return clone(c.state.Load().indexesByLabel[label])
}

// IndexesForRelationshipType returns the relationship indexes under typ.
func (c *Cache) IndexesForRelationshipType(typ int32) []IndexRule {
	return clone(c.state.Load().indexesByRelType[typ])
}

// IndexForName returns the index called name.
func (c *Cache) IndexForName(name string) (IndexRule, bool) {
	r, ok := c.state.Load().indexesByName[name]
	return r, ok
}

// ConstraintsForLabel returns the node constraints under label.
func (c *Cache) ConstraintsForLabel(label int32) []ConstraintRule {
	return clone(c.state.Load().constraintsByLabel[label])
}

// ConstraintsForRelationshipType returns the relationship constraints
// under typ.
func (c *Cache) ConstraintsForRelationshipType(typ int32) []ConstraintRule {
	return clone(c.state.Load().constraintsByRelType[typ])
}

// ConstraintsForSchema returns the constraints with exactly descriptor d.
func (c *Cache) ConstraintsForSchema(d Descriptor) []ConstraintRule {
	return clone(c.state.Load().constraintsBySchema[d.key()])
}

// ConstraintForName returns the constraint called name.
func (c *Cache) ConstraintForName(name string) (ConstraintRule, bool) {
	r, ok := c.state.Load().constraintsByName[name]
	return r, ok
}

// Labels returns the labels that have at least one index or constraint.
func (c *Cache) Labels() []int32 {
	s := c.state.Load()
	seen := make(map[int32]struct{}, len(s.indexesByLabel)+len(s.constraintsByLabel))
	for l := range s.indexesByLabel {
		seen[l] = struct{}{}
	}
	for l := range s.constraintsByLabel {
		seen[l] = struct{}{}
	}
	out := make([]int32, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// clone copies a derived slice so callers cannot alias published state.
func clone[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return append([]T(nil), s...)
}
