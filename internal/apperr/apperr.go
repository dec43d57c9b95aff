// Package apperr defines the error kinds surfaced by the admin services.
// Services return sentinels (optionally wrapped with context); transports
// map the Kind to a status code.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for callers.
type Kind string

const (
	KindInternal          Kind = "internal"
	KindNotFound          Kind = "not_found"
	KindInvalidTransition Kind = "invalid_transition"
	KindInvalidHierarchy  Kind = "invalid_hierarchy"
	KindDuplicateEntry    Kind = "duplicate_entry"
	KindUnauthorized      Kind = "unauthorized"
	KindForbidden         Kind = "forbidden"
	KindPartialFailure    Kind = "partial_failure"
	KindValidation        Kind = "validation"
	KindConflict          Kind = "conflict"
)

// Error is a classified error. Sentinels are compared by identity with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string { return e.Message }

// New returns a classified error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validationf returns a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Code: "validation_failed", Message: fmt.Sprintf(format, args...)}
}

// Wrap chains ext under base so both match with errors.Is.
func Wrap(base error, ext error) error {
	if ext == nil {
		return base
	}
	return fmt.Errorf("%w: %w", base, ext)
}

// KindOf returns the Kind of the first classified error in the chain, or KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CodeOf returns the machine code of the first classified error in the chain.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return "internal_error"
}

// Is reports whether err is classified with kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
