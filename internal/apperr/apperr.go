// Package apperr classifies failures into the categories callers act on:
// conflicts and validation failures are recovered locally into typed results,
// transient failures are retried by an outer layer, and invariant violations
// halt the offending operation.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the handling category of an error.
type Kind int

const (
	// KindUnknown is returned by KindOf for errors that were never classified.
	KindUnknown Kind = iota
	// KindConflict covers expected races: duplicates, already-rewarded, lock busy.
	KindConflict
	// KindValidation covers malformed input and policy denials.
	KindValidation
	// KindTransient covers store and network outages that are safe to retry.
	KindTransient
	// KindInvariant covers states that must never happen.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is a classified application error with a machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Kind, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Kind, e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Conflict builds a conflict error.
func Conflict(code, message string) *Error {
	return &Error{Kind: KindConflict, Code: code, Message: message}
}

// Validation builds a validation error.
func Validation(code, message string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: message}
}

// Transient wraps a retryable infrastructure failure.
func Transient(message string, cause error) *Error {
	return &Error{Kind: KindTransient, Code: "transient", Message: message, Cause: cause}
}

// Invariant wraps a violated invariant.
func Invariant(message string, cause error) *Error {
	return &Error{Kind: KindInvariant, Code: "invariant_violation", Message: message, Cause: cause}
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first classified error in err's chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsTransient reports whether err should be retried by the caller.
func IsTransient(err error) bool {
	return KindOf(err) == KindTransient
}

// IsInvariant reports whether err signals an unrecoverable inconsistency.
func IsInvariant(err error) bool {
	return KindOf(err) == KindInvariant
}
