package diskindex

import (
	"errors"
	"fmt"

	"github.com/hupe1980/diskindex/index"
	"github.com/hupe1980/diskindex/index/vector"
	"github.com/hupe1980/diskindex/store"
)

var (
	// ErrNotFound is returned when a referenced record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrUnsupported is returned for operations the index kind does not offer,
	// such as range queries on a vector index.
	ErrUnsupported = errors.New("operation not supported by index kind")
	// ErrInvalidDescriptor is returned for descriptors that fail validation.
	ErrInvalidDescriptor = errors.New("invalid index descriptor")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrFieldAccess indicates that an index value could not be extracted from a
// record or converted to the index key type.
type ErrFieldAccess struct {
	Field string
	Type  string
	cause error
}

func (e *ErrFieldAccess) Error() string {
	return fmt.Sprintf("field access failed: %q of %s", e.Field, e.Type)
}

func (e *ErrFieldAccess) Unwrap() error { return e.cause }

// ErrStorage indicates a failure of the underlying store.
type ErrStorage struct {
	Op       string
	Position store.Position
	cause    error
}

func (e *ErrStorage) Error() string {
	return fmt.Sprintf("storage %s at %d: %v", e.Op, e.Position, errors.Unwrap(e.cause))
}

func (e *ErrStorage) Unwrap() error { return e.cause }

func translateError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, index.ErrNotFound) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}

	var dm *vector.DimensionMismatchError
	if errors.As(err, &dm) {
		return &ErrDimensionMismatch{Expected: dm.Expected, Actual: dm.Actual, cause: err}
	}
	var fa *index.FieldAccessError
	if errors.As(err, &fa) {
		return &ErrFieldAccess{Field: fa.Field, Type: fa.Type, cause: err}
	}
	var se *store.StorageError
	if errors.As(err, &se) {
		return &ErrStorage{Op: se.Op, Position: se.Position, cause: err}
	}

	return err
}
