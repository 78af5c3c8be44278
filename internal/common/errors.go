// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Common application errors.
var (
	// Lifecycle errors.
	ErrInvalidTransition = errors.New("invalid link transition")
	ErrInvalidCandidate  = errors.New("invalid candidate")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ConflictError reports that a record is already committed to another link,
// or that the link itself was settled by someone else.
type ConflictError struct {
	LinkID    string
	ByLinkID  string
	RecordIDs []string
}

func (e *ConflictError) Error() string {
	switch {
	case len(e.RecordIDs) > 0 && e.ByLinkID != "":
		return fmt.Sprintf("records %s already reconciled by link %s", strings.Join(e.RecordIDs, ", "), e.ByLinkID)
	case len(e.RecordIDs) > 0:
		return fmt.Sprintf("records %s already reconciled", strings.Join(e.RecordIDs, ", "))
	case e.ByLinkID != "":
		return fmt.Sprintf("link %s was superseded by link %s", e.LinkID, e.ByLinkID)
	default:
		return fmt.Sprintf("link %s is no longer open", e.LinkID)
	}
}

// StaleCandidateError reports that member records changed after the link was proposed.
type StaleCandidateError struct {
	LinkID    string
	RecordIDs []string
}

func (e *StaleCandidateError) Error() string {
	return fmt.Sprintf("link %s is stale: records %s changed since proposal", e.LinkID, strings.Join(e.RecordIDs, ", "))
}

// AmountMismatchError reports that the two sides of a candidate do not balance.
type AmountMismatchError struct {
	SaleTotal decimal.Decimal
	BankTotal decimal.Decimal
	Tolerance decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("sales total %s does not match bank total %s (tolerance %s)",
		e.SaleTotal.String(), e.BankTotal.String(), e.Tolerance.String())
}

// Difference is the absolute gap between the two sides.
func (e *AmountMismatchError) Difference() decimal.Decimal {
	return e.SaleTotal.Sub(e.BankTotal).Abs()
}

// NotFoundError reports a missing record or link.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// PersistenceError reports that the store could not complete an operation.
type PersistenceError struct {
	Err error
	Op  string
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// NewPersistenceError wraps a store failure. Typed engine errors pass through unchanged.
func NewPersistenceError(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsEngineError(err) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsEngineError reports whether err carries one of the typed engine errors.
func IsEngineError(err error) bool {
	var (
		conflict *ConflictError
		stale    *StaleCandidateError
		mismatch *AmountMismatchError
		notFound *NotFoundError
		persist  *PersistenceError
	)
	return errors.As(err, &conflict) ||
		errors.As(err, &stale) ||
		errors.As(err, &mismatch) ||
		errors.As(err, &notFound) ||
		errors.As(err, &persist) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrInvalidCandidate)
}

// IsRetryable reports whether retrying with a freshly generated candidate may succeed.
func IsRetryable(err error) bool {
	var (
		conflict *ConflictError
		stale    *StaleCandidateError
	)
	return errors.As(err, &conflict) || errors.As(err, &stale)
}

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}
