package store

import (
	"errors"
	"fmt"
	"strconv"
)

// Position is an offset into a Store. Values <= 0 denote "absent".
type Position int64

// Null is the absent position.
const Null Position = 0

// Valid reports whether p refers to an allocation.
func (p Position) Valid() bool { return p > 0 }

func (p Position) String() string {
	if !p.Valid() {
		return "null"
	}
	return "@" + strconv.FormatInt(int64(p), 10)
}

// Store is a byte-addressable backing medium.
//
// Implementations must be safe for concurrent use. A single WriteAt call is
// atomic with respect to concurrent ReadAt calls on the same range.
type Store interface {
	// Allocate reserves size zeroed bytes and returns their position.
	Allocate(size int) (Position, error)
	// ReadAt fills p with the bytes at pos.
	ReadAt(p []byte, pos Position) error
	// WriteAt writes p at pos. The range must lie inside an allocation.
	WriteAt(p []byte, pos Position) error
	// Commit makes every preceding write durable.
	Commit() error
	// Close releases the store. It does not commit.
	Close() error
}

var (
	// ErrClosed is returned when a store is used after Close.
	ErrClosed = errors.New("store: closed")
	// ErrReadOnly is returned by mutating calls on a read-only store.
	ErrReadOnly = errors.New("store: read-only")
	// ErrInvalidPosition is returned for null or out-of-range positions.
	ErrInvalidPosition = errors.New("store: invalid position")
	// ErrAllocationTooLarge is returned when an allocation exceeds the backend limit.
	ErrAllocationTooLarge = errors.New("store: allocation too large")
	// ErrCorrupt is returned when persisted bytes fail validation.
	ErrCorrupt = errors.New("store: corrupt data")
)

// StorageError describes a failed store operation.
type StorageError struct {
	Op       string
	Position Position
	Err      error
}

func (e *StorageError) Error() string {
	if e.Position.Valid() {
		return fmt.Sprintf("store %s %s: %v", e.Op, e.Position, e.Err)
	}
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func wrap(op string, pos Position, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Position: pos, Err: err}
}
