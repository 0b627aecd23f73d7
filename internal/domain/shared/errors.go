// Package shared contains common domain types, errors, events and the
// advisory Result type used across all domain packages. This package has
// zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the engine matches exactly one of
// them with errors.Is().
var (
	// ErrValidation marks bad input: out-of-range quality, unknown category,
	// negative amounts, self-join and similar caller mistakes.
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing review state, match, or user record.
	ErrNotFound = errors.New("entity not found")

	// ErrConflict marks a conditional write that lost: joining a full match,
	// re-settling a finished match, re-granting an achieved reward.
	ErrConflict = errors.New("conflict")

	// ErrTransientStore marks a store timeout or outage. The same call may
	// succeed when retried.
	ErrTransientStore = errors.New("transient store error")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "review", "reward", "match"
	Op      string // Operation that failed, e.g., "Schedule", "Join"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Validation builds a validation error.
func Validation(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrValidation, message)
}

// NotFound builds a not-found error.
func NotFound(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrNotFound, message)
}

// Conflict builds a conflict error.
func Conflict(domain, op, message string) *DomainError {
	return NewDomainError(domain, op, ErrConflict, message)
}

// Transient wraps a store failure as transient.
func Transient(domain, op string, err error) *DomainError {
	return WrapError(domain, op, ErrTransientStore, "store unavailable", err)
}

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsConflict checks if the error is a conflict error.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsTransient checks if the operation can be retried.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientStore)
}

// KindOf returns the error kind, or nil for unclassified errors.
func KindOf(err error) error {
	switch {
	case err == nil:
		return nil
	case IsValidation(err):
		return ErrValidation
	case IsNotFound(err):
		return ErrNotFound
	case IsConflict(err):
		return ErrConflict
	case IsTransient(err):
		return ErrTransientStore
	default:
		return nil
	}
}
