package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrNoCurrentRate    = errors.New("no current rate for fuel type")
	ErrCapacityExceeded = errors.New("tank capacity exceeded")
	ErrNegativeStock    = errors.New("stock cannot go negative")
)

// ValidationError is bad input. Surfaced directly, never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// ConflictError is a business-rule rejection the caller may resubmit differently:
// a nozzle or worker that already holds an open shift, a duplicate tank code,
// closing a shift that is already closed. HeldBy names the conflicting worker
// when the conflict is an exclusivity violation.
type ConflictError struct {
	Msg    string
	HeldBy string
}

func (e *ConflictError) Error() string {
	if e.HeldBy != "" {
		return fmt.Sprintf("%s (held by %s)", e.Msg, e.HeldBy)
	}
	return e.Msg
}

func Conflictf(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
