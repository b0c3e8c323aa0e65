// Package errors provides custom error types for domain-specific errors.
package errors

import (
	"errors"
	"fmt"
)

// Standard sentinel errors
var (
	ErrInsufficientCash = errors.New("insufficient cash")
	ErrFlatPosition     = errors.New("no open position")
	ErrInsufficientData = errors.New("insufficient data for calculation")
	ErrInvalidPeriod    = errors.New("invalid period")
	ErrPersistence      = errors.New("persistence failure")
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrInvalidPrice     = errors.New("price must be positive")
)

// LedgerError represents a rejected ledger operation. The in-memory state
// is untouched when one is returned.
type LedgerError struct {
	Op     string // "buy" or "sell"
	Reason string
	Err    error
}

func (e *LedgerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("ledger %s rejected: %s: %v", e.Op, e.Reason, e.Err)
	}
	return fmt.Sprintf("ledger %s rejected: %s", e.Op, e.Reason)
}

func (e *LedgerError) Unwrap() error {
	return e.Err
}

// NewLedgerError creates a new LedgerError.
func NewLedgerError(op, reason string, err error) *LedgerError {
	return &LedgerError{Op: op, Reason: reason, Err: err}
}

// StoreError represents a performance store read/write failure.
type StoreError struct {
	Op    string
	Table string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store error [%s %s]: %v", e.Op, e.Table, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new StoreError.
func NewStoreError(op, table string, err error) *StoreError {
	return &StoreError{Op: op, Table: table, Err: err}
}

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
