package backend

import (
	"fmt"
)

// Error wraps any failure reported by an engine operation with the
// operation name. The adapter never retries and never swallows one,
// except for not-found conditions that engines model as empty results.
type Error struct {
	// Op is the engine operation that failed (e.g. "add_batch").
	Op string

	// Message is the engine-reported failure text.
	Message string

	cause error
}

// Errorf builds an Error from a format string.
func Errorf(op, format string, args ...any) *Error {
	return &Error{Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around an underlying cause. Returns nil for a
// nil cause so call sites can wrap unconditionally.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Op: op, Message: err.Error(), cause: err}
}

func (e *Error) Error() string {
	return fmt.Sprintf("vector backend %s: %s", e.Op, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }
