// Package errors provides structured error handling with tagged error kinds.
//
// Every failure raised inside the pipeline core carries a Kind (the taxonomy
// token), a Subject (what the failure is about: a key path, a run id, an
// artifact name) and a Detail line. Kinds are matched with HasKind; the
// standard errors.Is/As semantics are preserved through Unwrap.
//
// Usage:
//
//	err := errors.New(errors.KindDuplicateKey, "execution_rules.stop_loss", "key defined twice")
//	err := errors.Newf(errors.KindDataMissing, symbol, "no market data under %s", dir)
//	err := errors.Wrap(errors.KindStateCorruption, runID, "state file unreadable", cause)
//	if errors.HasKind(err, errors.KindArtifactTampering) { ... }
package errors

import (
	"errors"
	"fmt"
)

// Error represents a structured pipeline error.
type Error struct {
	Kind    Kind
	Subject string
	Detail  string
	Cause   error
}

// New creates a new Error with the given kind, subject and detail.
func New(kind Kind, subject, detail string) *Error {
	return &Error{
		Kind:    kind,
		Subject: subject,
		Detail:  detail,
		Cause:   nil,
	}
}

// Newf creates a new Error with a formatted detail line.
func Newf(kind Kind, subject, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Subject: subject,
		Detail:  fmt.Sprintf(format, args...),
		Cause:   nil,
	}
}

// Wrap wraps an existing error with a new Error containing the given kind,
// subject and detail.
func Wrap(kind Kind, subject, detail string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Subject: subject,
		Detail:  detail,
		Cause:   cause,
	}
}

// Wrapf wraps an existing error with a formatted detail line.
func Wrapf(kind Kind, subject string, cause error, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Subject: subject,
		Detail:  fmt.Sprintf(format, args...),
		Cause:   cause,
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s(%s): %s: %v", e.Kind, e.Subject, e.Detail, e.Cause)
	}

	return fmt.Sprintf("%s(%s): %s", e.Kind, e.Subject, e.Detail)
}

// Unwrap returns the underlying error cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether any error in err's chain matches target.
// This is a convenience wrapper around the standard errors.Is function.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
// This is a convenience wrapper around the standard errors.As function.
func As(err error, target any) bool {
	return errors.As(err, target)
}

// GetKind extracts the Kind from an error chain.
// Returns KindUnknown if no *Error is present in the chain.
func GetKind(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindUnknown
}

// HasKind checks if an error chain contains an Error with the given kind.
func HasKind(err error, kind Kind) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}

		if e.Kind == kind {
			return true
		}

		err = e.Unwrap()
	}

	return false
}

// GetSubject extracts the Subject from an error chain.
// Returns the empty string if no *Error is present in the chain.
func GetSubject(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Subject
	}

	return ""
}
