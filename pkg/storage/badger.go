// Package storage - BadgerDB-backed record stores.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"
)

// Key prefixes for BadgerDB storage organization.
// Every record kind gets its own single-byte prefix followed by the
// big-endian record id, so keys of one store sort by id.
const (
	prefixNode          = byte(0x01) // 0x01 + id -> node record
	prefixRelationship  = byte(0x02) // 0x02 + id -> relationship record
	prefixGroup         = byte(0x03) // 0x03 + id -> relationship group record
	prefixProperty      = byte(0x04) // 0x04 + id -> property record
	prefixStringBlock   = byte(0x05) // 0x05 + id -> dynamic string record
	prefixArrayBlock    = byte(0x06) // 0x06 + id -> dynamic array record
	prefixLabelBlock    = byte(0x07) // 0x07 + id -> dynamic label record
	recordKeySize       = 1 + 8
)

// BadgerOptions configures the BadgerDB-backed stores.
type BadgerOptions struct {
	Options

	// DataDir is the directory for storing data files.
	// Required unless InMemory is set.
	DataDir string

	// InMemory runs BadgerDB in memory-only mode.
	// Useful for testing. Data is not persisted.
	InMemory bool

	// SyncWrites forces fsync after each write.
	SyncWrites bool

	// Logger receives BadgerDB internal logging.
	// If nil, a logrus entry tagged component=badger is used.
	Logger badger.Logger
}

// BadgerStore is a record store persisted in a shared BadgerDB instance.
//
// The store is a keyed record service only: each Write is its own Badger
// transaction and no multi-record atomicity is offered.
//
// Thread Safety:
//
//	Safe for concurrent use from multiple goroutines.
type BadgerStore[R Record] struct {
	db     *badger.DB
	prefix byte
	codec  Codec[R]
	kind   Kind
	closed *atomic.Bool
	*idAllocator
}

// NewBadgerStores opens (or creates) a BadgerDB database and returns the
// full set of record stores backed by it.
//
// The high-water mark of each store is recovered from the highest key
// present under its prefix.
//
// Example:
//
//	stores, err := storage.NewBadgerStores(storage.BadgerOptions{
//		DataDir: "./data/graph",
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer stores.Close()
func NewBadgerStores(opts BadgerOptions) (*Stores, error) {
	log := logrus.WithField("component", "storage")

	badgerOpts := badger.DefaultOptions(opts.DataDir)
	if opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	if opts.SyncWrites {
		badgerOpts = badgerOpts.WithSyncWrites(true)
	}
	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(badgerLogger{logrus.WithField("component", "badger")})
	}

	// Records are small and fixed-size; keep everything in the LSM tree.
	badgerOpts = badgerOpts.
		WithMemTableSize(16 << 20).
		WithValueLogFileSize(64 << 20).
		WithNumMemtables(2).
		WithNumLevelZeroTables(2).
		WithNumLevelZeroTablesStall(4).
		WithValueThreshold(1024).
		WithBlockCacheSize(32 << 20).
		WithIndexCacheSize(16 << 20)

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	closed := &atomic.Bool{}
	bs := opts.blockSize()
	stores := &Stores{BlockSize: bs}

	var errs []error
	stores.Nodes = openBadgerStore[NodeRecord](db, closed, prefixNode, KindNode, nodeCodec{}, opts.Options, &errs)
	stores.Relationships = openBadgerStore[RelationshipRecord](db, closed, prefixRelationship, KindRelationship, relationshipCodec{}, opts.Options, &errs)
	stores.Groups = openBadgerStore[RelationshipGroupRecord](db, closed, prefixGroup, KindRelationshipGroup, groupCodec{}, opts.Options, &errs)
	stores.Properties = openBadgerStore[PropertyRecord](db, closed, prefixProperty, KindProperty, propertyCodec{}, opts.Options, &errs)
	stores.Strings = openBadgerStore[DynamicRecord](db, closed, prefixStringBlock, KindString, dynamicCodec{kind: KindString, blockSize: bs}, opts.Options, &errs)
	stores.Arrays = openBadgerStore[DynamicRecord](db, closed, prefixArrayBlock, KindArray, dynamicCodec{kind: KindArray, blockSize: bs}, opts.Options, &errs)
	stores.Labels = openBadgerStore[DynamicRecord](db, closed, prefixLabelBlock, KindLabel, dynamicCodec{kind: KindLabel, blockSize: bs}, opts.Options, &errs)
	if len(errs) > 0 {
		_ = db.Close()
		return nil, errors.Join(errs...)
	}

	stores.closer = func() error {
		if !closed.CompareAndSwap(false, true) {
			return nil
		}
		log.Info("closing record stores")
		return db.Close()
	}

	log.WithFields(logrus.Fields{
		"dir":       opts.DataDir,
		"in_memory": opts.InMemory,
		"nodes":     stores.Nodes.HighestIDInUse(),
		"rels":      stores.Relationships.HighestIDInUse(),
	}).Info("record stores opened")
	return stores, nil
}

func openBadgerStore[R Record](db *badger.DB, closed *atomic.Bool, prefix byte, kind Kind,
	codec Codec[R], opts Options, errs *[]error) *BadgerStore[R] {
	s := &BadgerStore[R]{
		db:          db,
		prefix:      prefix,
		codec:       codec,
		kind:        kind,
		closed:      closed,
		idAllocator: newIDAllocator(opts.ReservedLowIDs),
	}
	if err := s.recoverHighWater(); err != nil {
		*errs = append(*errs, fmt.Errorf("%s store: recover high-water mark: %w", kind, err))
	}
	return s
}

// recoverHighWater seeks to the last key under the store prefix.
func (s *BadgerStore[R]) recoverHighWater() error {
	return s.db.View(func(txn *badger.Txn) error {
		iopts := badger.DefaultIteratorOptions
		iopts.Reverse = true
		iopts.PrefetchValues = false
		iopts.Prefix = []byte{s.prefix}
		it := txn.NewIterator(iopts)
		defer it.Close()

		seek := make([]byte, recordKeySize)
		seek[0] = s.prefix
		for i := 1; i < recordKeySize; i++ {
			seek[i] = 0xFF
		}
		it.Seek(seek)
		if it.Valid() {
			key := it.Item().Key()
			if len(key) != recordKeySize {
				return fmt.Errorf("malformed key %x: %w", key, ErrInvalidData)
			}
			s.observe(int64(binary.BigEndian.Uint64(key[1:])))
		}
		return nil
	})
}

func (s *BadgerStore[R]) key(id int64) []byte {
	k := make([]byte, recordKeySize)
	k[0] = s.prefix
	binary.BigEndian.PutUint64(k[1:], uint64(id))
	return k
}

// Read returns the record with the given id, or a not-in-use record when the
// id was never written.
func (s *BadgerStore[R]) Read(id int64) (R, error) {
	var out R
	if id < 0 {
		return out, fmt.Errorf("%s store: read %d: %w", s.kind, id, ErrInvalidID)
	}
	if s.closed.Load() {
		return out, ErrStoreClosed
	}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			out = s.codec.Empty(id)
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			r, err := s.codec.Decode(id, val)
			if err != nil {
				return err
			}
			out = r
			return nil
		})
	})
	if err != nil {
		var zero R
		return zero, fmt.Errorf("%s store: read %d: %w", s.kind, id, err)
	}
	return out, nil
}

// Write stores the record, replacing any previous version.
func (s *BadgerStore[R]) Write(record R) error {
	id := record.RecordID()
	if id < 0 {
		return fmt.Errorf("%s store: write %d: %w", s.kind, id, ErrInvalidID)
	}
	if err := validate(s.codec, record); err != nil {
		return err
	}
	if s.closed.Load() {
		return ErrStoreClosed
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(id), s.codec.Encode(record))
	})
	if err != nil {
		return fmt.Errorf("%s store: write %d: %w", s.kind, id, err)
	}
	s.observe(id)
	return nil
}

func (s *BadgerStore[R]) Kind() Kind { return s.kind }

// Close is a no-op; the shared database is closed through Stores.Close.
func (s *BadgerStore[R]) Close() error { return nil }

// badgerLogger routes BadgerDB's internal logging through logrus.
// Badger is chatty at info level, so info is demoted to debug.
type badgerLogger struct {
	entry *logrus.Entry
}

func (l badgerLogger) Errorf(f string, args ...interface{})   { l.entry.Errorf(f, args...) }
func (l badgerLogger) Warningf(f string, args ...interface{}) { l.entry.Warningf(f, args...) }
func (l badgerLogger) Infof(f string, args ...interface{})    { l.entry.Debugf(f, args...) }
func (l badgerLogger) Debugf(f string, args ...interface{})   { l.entry.Tracef(f, args...) }
