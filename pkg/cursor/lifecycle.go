// Package cursor provides the pooled, reusable cursors of the read layer.
//
// Every cursor follows the same lifecycle:
//
//	c := cursors.Nodes(tx)        // borrowed from an arena and initialized
//	for c.Next() {
//		item, err := c.Get()     // valid only after Next returned true
//		...
//	}
//	if err := c.Err(); err != nil { ... }
//	c.Close()                     // returns the cursor to its arena
//
// Next merges committed records with the transaction overlay passed at init
// time; a nil overlay reads committed data only. Get outside a successful
// Next, or on a closed cursor, fails with ErrCursorMisuse. Close is
// idempotent and releases every held lock.
//
// Cursors are not safe for concurrent use; each belongs to one transaction.
package cursor

import (
	"errors"
	"fmt"

	"github.com/orneryd/nornicstore/pkg/metrics"
	"github.com/orneryd/nornicstore/pkg/storage"
)

var (
	// ErrCursorMisuse is returned by Get when the cursor is not positioned on
	// an element.
	ErrCursorMisuse = errors.New("cursor misuse")

	// ErrRereadRace is returned when a record re-read under a short read lock
	// fails. The lock is released before the error is returned.
	ErrRereadRace = errors.New("record re-read failed under lock")

	// ErrEntityNotFound matches storage.EntityNotFoundError.
	ErrEntityNotFound = storage.ErrNotFound
)

// Cursor is the contract shared by every cursor kind.
type Cursor[T any] interface {
	Next() bool
	Get() (T, error)
	Err() error
	Close() error
}

type state uint8

const (
	stateIdle state = iota
	stateReady
	statePositioned
	stateExhausted
	stateClosed
)

func (s state) String() string {
	switch s {
	case stateIdle:
		return "uninitialized"
	case stateReady:
		return "ready"
	case statePositioned:
		return "positioned"
	case stateExhausted:
		return "exhausted"
	default:
		return "closed"
	}
}

// lifecycle is the state machine embedded in every cursor.
type lifecycle struct {
	kind    string
	state   state
	err     error
	release func()
}

func (l *lifecycle) open(kind string, release func()) {
	l.kind = kind
	l.state = stateReady
	l.err = nil
	l.release = release
}

// advancing reports whether Next may look for another element.
func (l *lifecycle) advancing() bool {
	return l.state == stateReady || l.state == statePositioned
}

func (l *lifecycle) positioned() { l.state = statePositioned }

func (l *lifecycle) exhaust(err error) {
	l.state = stateExhausted
	if err != nil && l.err == nil {
		l.err = err
	}
}

func (l *lifecycle) check() error {
	if l.state == statePositioned {
		return nil
	}
	metrics.CursorMisuse.WithLabelValues(l.kind).Inc()
	return fmt.Errorf("%s cursor: Get while %s: %w", l.kind, l.state, ErrCursorMisuse)
}

// close moves to the closed state and reports whether this call did it.
func (l *lifecycle) close() bool {
	if l.state == stateClosed {
		return false
	}
	l.state = stateClosed
	if r := l.release; r != nil {
		l.release = nil
		r()
	}
	return true
}

func (l *lifecycle) Err() error { return l.err }
