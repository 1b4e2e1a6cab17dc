// Package schema tracks which indexes and constraints exist.
//
// Rules are identified by a numeric id and target a Descriptor: a label or
// relationship type plus an ordered list of property keys. The Cache keeps
// every known rule in memory and answers lookups by label, relationship
// type, exact descriptor, name or id. Index implementations and constraint
// enforcement live elsewhere; this package only knows the rules.
//
// Example:
//
//	cache := schema.NewCache()
//	_ = cache.AddSchemaRule(schema.IndexRule{
//		ID:     1,
//		Name:   "person_name",
//		Schema: schema.ForLabel(personLabel, nameKey),
//	})
//	idx, ok := cache.IndexForSchema(schema.ForLabel(personLabel, nameKey))
package schema

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrInvalidRule is returned for rules with a negative id or a
	// descriptor without property keys.
	ErrInvalidRule = errors.New("invalid schema rule")

	// ErrRuleNotFound is returned by Require when no rule has the id.
	ErrRuleNotFound = errors.New("schema rule not found")
)

// NoRule marks an absent owning constraint or owned index.
const NoRule int64 = -1

// EntityType is the kind of entity a descriptor targets.
type EntityType uint8

const (
	EntityNode EntityType = iota
	EntityRelationship
)

func (e EntityType) String() string {
	if e == EntityRelationship {
		return "relationship"
	}
	return "node"
}

// Descriptor is the target of a schema rule.
type Descriptor struct {
	EntityType   EntityType
	EntityToken  int32
	PropertyKeys []int32
}

// ForLabel describes node properties under label.
func ForLabel(label int32, keys ...int32) Descriptor {
	return Descriptor{EntityType: EntityNode, EntityToken: label, PropertyKeys: keys}
}

// ForRelationshipType describes relationship properties under typ.
func ForRelationshipType(typ int32, keys ...int32) Descriptor {
	return Descriptor{EntityType: EntityRelationship, EntityToken: typ, PropertyKeys: keys}
}

// Equal reports whether two descriptors target the same entity token and
// the same property keys in the same order.
func (d Descriptor) Equal(o Descriptor) bool {
	return d.key() == o.key()
}

// key is the map key of the descriptor in derived lookups.
func (d Descriptor) key() string {
	var b strings.Builder
	if d.EntityType == EntityRelationship {
		b.WriteString("r:")
	} else {
		b.WriteString("n:")
	}
	b.WriteString(strconv.FormatInt(int64(d.EntityToken), 10))
	for i, k := range d.PropertyKeys {
		if i == 0 {
			b.WriteByte(':')
		} else {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatInt(int64(k), 10))
	}
	return b.String()
}

func (d Descriptor) String() string {
	return fmt.Sprintf("%s(%d)%v", d.EntityType, d.EntityToken, d.PropertyKeys)
}

func (d Descriptor) validate() error {
	if len(d.PropertyKeys) == 0 {
		return fmt.Errorf("%s: no property keys: %w", d, ErrInvalidRule)
	}
	return nil
}

func (d Descriptor) clone() Descriptor {
	d.PropertyKeys = append([]int32(nil), d.PropertyKeys...)
	return d
}

// Rule is an IndexRule or a ConstraintRule.
type Rule interface {
	RuleID() int64
	RuleName() string
	Descriptor() Descriptor
	isRule()
}

// IndexRule describes an index over a schema descriptor.
type IndexRule struct {
	ID       int64
	Name     string
	Schema   Descriptor
	Unique   bool
	Provider string
	// OwningConstraint is the constraint backed by this index, or NoRule.
	OwningConstraint int64
}

func (r IndexRule) RuleID() int64          { return r.ID }
func (r IndexRule) RuleName() string       { return r.Name }
func (r IndexRule) Descriptor() Descriptor { return r.Schema }
func (IndexRule) isRule()                  {}

func (r IndexRule) String() string {
	return fmt.Sprintf("Index(id=%d, name=%q, schema=%s, unique=%t)", r.ID, r.Name, r.Schema, r.Unique)
}

// ConstraintKind is the kind of a constraint.
type ConstraintKind uint8

const (
	ConstraintUniqueness ConstraintKind = iota
	ConstraintExistence
	ConstraintNodeKey
)

func (k ConstraintKind) String() string {
	switch k {
	case ConstraintUniqueness:
		return "UNIQUENESS"
	case ConstraintExistence:
		return "EXISTENCE"
	case ConstraintNodeKey:
		return "NODE_KEY"
	default:
		return "ConstraintKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// IndexBacked reports whether constraints of this kind own an index.
func (k ConstraintKind) IndexBacked() bool {
	return k == ConstraintUniqueness || k == ConstraintNodeKey
}

// ConstraintRule describes a constraint over a schema descriptor.
type ConstraintRule struct {
	ID     int64
	Name   string
	Schema Descriptor
	Kind   ConstraintKind
	// OwnedIndex is the index backing an index-backed constraint, or NoRule.
	OwnedIndex int64
}

func (r ConstraintRule) RuleID() int64          { return r.ID }
func (r ConstraintRule) RuleName() string       { return r.Name }
func (r ConstraintRule) Descriptor() Descriptor { return r.Schema }
func (ConstraintRule) isRule()                  {}

func (r ConstraintRule) String() string {
	return fmt.Sprintf("Constraint(id=%d, name=%q, schema=%s, kind=%s)", r.ID, r.Name, r.Schema, r.Kind)
}

func validateRule(r Rule) error {
	if r == nil {
		return fmt.Errorf("nil rule: %w", ErrInvalidRule)
	}
	if r.RuleID() < 0 {
		return fmt.Errorf("rule id %d: %w", r.RuleID(), ErrInvalidRule)
	}
	return r.Descriptor().validate()
}
