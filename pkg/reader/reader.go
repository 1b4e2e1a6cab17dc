// Package reader is the entry point of the NornicStore read layer.
//
// A StoreReader owns everything that outlives a transaction: the record
// stores, the cursor arenas, the dense-node engine, the node label cache and
// the schema cache. Session scopes those to one transaction overlay and
// exposes the reads query execution needs.
//
// Example:
//
//	r := reader.NewStoreReader(stores, schema.NewCache(rules...), reader.Options{})
//	defer r.Close()
//
//	s := r.Session(tx)
//	defer s.Close()
//
//	nodes := s.NodesGetForLabel(personLabel)
//	defer nodes.Close()
//	for nodes.Next() {
//		n, _ := nodes.Get()
//		props, err := s.NodeGetProperties(n.ID())
//		...
//	}
package reader

import (
	"errors"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/orneryd/nornicstore/pkg/cache"
	"github.com/orneryd/nornicstore/pkg/cursor"
	"github.com/orneryd/nornicstore/pkg/dense"
	"github.com/orneryd/nornicstore/pkg/schema"
	"github.com/orneryd/nornicstore/pkg/storage"
	"github.com/orneryd/nornicstore/pkg/txstate"
)

var (
	// ErrReaderClosed is returned by sessions of a closed StoreReader.
	ErrReaderClosed = errors.New("store reader closed")

	// ErrSessionClosed is returned by a session after Close.
	ErrSessionClosed = errors.New("session closed")
)

// DefaultLabelCacheSize is the label cache capacity used when Options
// leaves it unset.
const DefaultLabelCacheSize = 10000

// Options configures a StoreReader.
type Options struct {
	// LabelCacheSize bounds the node label cache; 0 uses DefaultLabelCacheSize.
	LabelCacheSize int
	// Dense configures degree computation.
	Dense dense.Options
	// Locks provides the short read locks taken for record re-reads and
	// property chain walks. Nil uses a striped storage.Locks.
	Locks storage.LockProvider
}

// StoreReader is the transaction-independent part of the read layer.
//
// Thread Safety:
//
//	StoreReader is safe for concurrent use. Sessions are not.
type StoreReader struct {
	stores  *storage.Stores
	schema  *schema.Cache
	labels  *cache.LabelCache
	engine  *dense.Engine
	cursors *cursor.Cursors
	locks   storage.LockProvider
	log     *logrus.Entry
	closed  atomic.Bool
}

// NewStoreReader creates a reader over stores. A nil schemaCache starts
// with no rules.
func NewStoreReader(stores *storage.Stores, schemaCache *schema.Cache, opts Options) *StoreReader {
	if schemaCache == nil {
		schemaCache = schema.NewCache()
	}
	if opts.LabelCacheSize <= 0 {
		opts.LabelCacheSize = DefaultLabelCacheSize
	}
	if opts.Locks == nil {
		opts.Locks = storage.NewLocks()
	}
	engine := dense.NewEngine(stores, opts.Dense)
	r := &StoreReader{
		stores:  stores,
		schema:  schemaCache,
		labels:  cache.NewLabelCache(opts.LabelCacheSize),
		engine:  engine,
		cursors: cursor.NewCursors(stores, opts.Locks, engine),
		locks:   opts.Locks,
		log:     logrus.WithField("component", "reader"),
	}
	r.log.WithFields(logrus.Fields{
		"label_cache_size": opts.LabelCacheSize,
		"chain_counts":     opts.Dense.UseChainCounts,
	}).Debug("Store reader opened")
	return r
}

// Session returns a session reading through tx. A nil tx reads committed
// data only.
func (r *StoreReader) Session(tx *txstate.State) *Session {
	return &Session{r: r, tx: tx}
}

// Stores returns the underlying record stores.
func (r *StoreReader) Stores() *storage.Stores { return r.stores }

// Schema returns the schema cache.
func (r *StoreReader) Schema() *schema.Cache { return r.schema }

// Cursors returns the cursor factory.
func (r *StoreReader) Cursors() *cursor.Cursors { return r.cursors }

// LabelCacheStats returns node label cache statistics.
func (r *StoreReader) LabelCacheStats() cache.CacheStats { return r.labels.Stats() }

// ApplyCommittedLabels patches committed label changes into the label cache.
func (r *StoreReader) ApplyCommittedLabels(changes ...txstate.LabelChange) {
	r.labels.Apply(changes...)
}

// EvictNode drops node from the label cache, e.g. after it was deleted.
func (r *StoreReader) EvictNode(node int64) {
	r.labels.EvictNode(node)
}

// Close marks the reader closed. Sessions fail afterwards; the stores are
// owned by the caller and stay open.
func (r *StoreReader) Close() error {
	if r.closed.CompareAndSwap(false, true) {
		r.labels.Clear()
		r.log.Debug("Store reader closed")
	}
	return nil
}

// =============================================================================
// Schema queries
// =============================================================================

// ConstraintsGetAll returns every constraint rule.
func (r *StoreReader) ConstraintsGetAll() []schema.ConstraintRule {
	return r.schema.ConstraintRules()
}

// ConstraintsGetForLabel returns the constraints on nodes with label.
func (r *StoreReader) ConstraintsGetForLabel(label int32) []schema.ConstraintRule {
	return r.schema.ConstraintsForLabel(label)
}

// ConstraintsGetForRelationshipType returns the constraints on
// relationships of typ.
func (r *StoreReader) ConstraintsGetForRelationshipType(typ int32) []schema.ConstraintRule {
	return r.schema.ConstraintsForRelationshipType(typ)
}

// ConstraintsGetForSchema returns the constraints with exactly descriptor d.
func (r *StoreReader) ConstraintsGetForSchema(d schema.Descriptor) []schema.ConstraintRule {
	return r.schema.ConstraintsForSchema(d)
}

// IndexGetForSchema returns the index with exactly descriptor d.
func (r *StoreReader) IndexGetForSchema(d schema.Descriptor) (schema.IndexRule, bool) {
	return r.schema.IndexForSchema(d)
}

// IndexesGetAll returns every index rule.
func (r *StoreReader) IndexesGetAll() []schema.IndexRule {
	return r.schema.IndexRules()
}

// IndexesGetForLabel returns the indexes on nodes with label.
func (r *StoreReader) IndexesGetForLabel(label int32) []schema.IndexRule {
	return r.schema.IndexesForLabel(label)
}

// loadLabels is the label cache loader: the committed labels of a live node.
func (r *StoreReader) loadLabels(node int64) ([]int32, error) {
	rec, err := r.stores.Nodes.Read(node)
	if err != nil {
		return nil, err
	}
	if !rec.InUse {
		return nil, &storage.EntityNotFoundError{Kind: storage.KindNode, ID: node}
	}
	return storage.ReadLabels(r.stores.Labels, rec.LabelField)
}
