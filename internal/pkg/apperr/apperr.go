// Package apperr defines the error kinds shared by the booking and
// settlement layers. Callers classify failures with errors.Is against the
// kind sentinels; specific errors wrap exactly one kind.
package apperr

import (
	"errors"
	"fmt"
)

// Error kinds.
var (
	ErrValidation  = errors.New("validation error")
	ErrPermission  = errors.New("permission denied")
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("temporarily unavailable")
	ErrRetryable   = errors.New("store failure, retry later")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// New returns a sentinel error of the given kind.
func New(kind error, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

// Retryable marks a store failure as retryable, keeping the cause in the chain.
func Retryable(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrRetryable, err)
}

// Kind returns the kind sentinel err belongs to, or nil if it is unclassified.
func Kind(err error) error {
	for _, k := range []error{ErrValidation, ErrPermission, ErrNotFound, ErrConflict, ErrUnavailable, ErrRetryable} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}

// Message returns the text of the outermost classified error in err's
// chain, or "" when there is none. It is safe to show to users.
func Message(err error) string {
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.msg
	}
	return ""
}
