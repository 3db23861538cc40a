package annbridge

import (
	"errors"
	"fmt"

	"github.com/hupe1980/annbridge/backend"
)

var (
	// ErrInvalidK is returned when k is not positive.
	ErrInvalidK = errors.New("k must be positive")

	// ErrIndexDropped is returned when an operation reaches an index
	// whose storage has been destroyed.
	ErrIndexDropped = errors.New("index has been dropped")

	// ErrIndexNotFound is returned by registry lookups for unknown
	// index names.
	ErrIndexNotFound = errors.New("index not found")

	// ErrUnsupportedConstraint is returned at creation time when the
	// index definition carries a UNIQUE, PRIMARY KEY or FOREIGN KEY
	// constraint; the adapter only supports plain vector indexes.
	ErrUnsupportedConstraint = errors.New("unsupported index constraint")
)

// ErrDimensionMismatch indicates a vector/query dimensionality mismatch.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ErrDimensionMismatch struct {
	Expected int
	Actual   int
	cause    error
}

func (e *ErrDimensionMismatch) Error() string {
	return fmt.Sprintf("dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

func (e *ErrDimensionMismatch) Unwrap() error { return e.cause }

// ErrInvalidDimension indicates an invalid configured dimension.
type ErrInvalidDimension struct {
	Dimension int
}

func (e *ErrInvalidDimension) Error() string {
	return fmt.Sprintf("invalid dimension: %d", e.Dimension)
}

// ErrInvalidColumn indicates the indexed column is not a fixed-size
// float vector column.
type ErrInvalidColumn struct {
	Column string
	Reason string
}

func (e *ErrInvalidColumn) Error() string {
	return fmt.Sprintf("column %q cannot back a vector index: %s", e.Column, e.Reason)
}

// translateError normalizes failures leaving the lifecycle controller.
// Engine failures are guaranteed to carry the operation name; anything
// an engine returns raw gets wrapped here. Configuration errors pass
// through untouched so callers can match the sentinels above.
func translateError(op string, err error) error {
	if err == nil {
		return nil
	}
	var be *backend.Error
	if errors.As(err, &be) {
		return err
	}
	if errors.Is(err, ErrIndexDropped) || errors.Is(err, ErrInvalidK) {
		return err
	}
	return backend.Wrap(op, err)
}
