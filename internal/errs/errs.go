// Package errs defines the error taxonomy shared by the engine services.
// Every class except PersistenceError is terminal for the call that produced
// it; persistence failures may be retried because settlement is idempotent
// with respect to already-settled rows.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDuplicatePosition   = errors.New("position already open for symbol/side")
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrServiceUnavailable  = errors.New("market data unavailable")
)

// ValidationError reports bad input shape or range. It is always produced
// before any lock is taken or write issued.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Validation builds a ValidationError with a formatted reason.
func Validation(format string, args ...interface{}) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// PersistenceError wraps a storage layer failure mid-transaction.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string { return "persistence failure: " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// Persistence wraps err as a PersistenceError, passing nil through.
func Persistence(err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Err: err}
}

// IsPersistence reports whether err is a PersistenceError.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
