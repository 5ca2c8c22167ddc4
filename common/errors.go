// Package common provides the domain error model shared by all depictio
// services. Errors carry a machine-readable kind, a human-readable detail and
// a context string naming the entity involved (project id, workflow tag, DC
// tag, file location). Errors wrap freely with fmt.Errorf and %w; kinds are
// recoverable with errors.As / KindOf at service boundaries.
package common

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable category of a domain error.
type ErrorKind string

const (
	// ErrConfigInvalid indicates a configuration violating schema or
	// cross-field invariants (e.g. sequencing-runs without runs_regex).
	ErrConfigInvalid ErrorKind = "config-invalid"

	// ErrDCNotFound indicates a referenced data collection is missing.
	ErrDCNotFound ErrorKind = "dc-not-found"

	// ErrDCNotProcessed indicates the DC exists but its Delta table has not
	// been materialized yet.
	ErrDCNotProcessed ErrorKind = "dc-not-processed"

	// ErrMissingJoinColumn indicates a declared join column is absent from
	// one side of a join.
	ErrMissingJoinColumn ErrorKind = "missing-join-column"

	// ErrTypeError indicates non-coercible dtypes during join normalization
	// or filter evaluation.
	ErrTypeError ErrorKind = "type-error"

	// ErrIO indicates a failure to read/write the object store or filesystem.
	ErrIO ErrorKind = "io-error"

	// ErrScanIO indicates a failure to enumerate a scan location. Non-fatal
	// to sibling locations.
	ErrScanIO ErrorKind = "scan-io-error"

	// ErrAuth indicates a missing or invalid token at a boundary.
	ErrAuth ErrorKind = "auth-error"

	// ErrConflict indicates a duplicate-key on creation, handled by
	// idempotent retrieve.
	ErrConflict ErrorKind = "conflict"

	// ErrNotFound indicates an entity lookup miss.
	ErrNotFound ErrorKind = "not-found"

	// ErrInvalidTime indicates a non-parseable timestamp on a File or Run.
	ErrInvalidTime ErrorKind = "invalid-time"

	// ErrInvalidFile indicates a File failing field validation (e.g. zero
	// size).
	ErrInvalidFile ErrorKind = "invalid-file"
)

// Error is a domain error with kind, detail and entity context.
type Error struct {
	Kind    ErrorKind `json:"kind"`
	Detail  string    `json:"detail"`
	Context string    `json:"context,omitempty"`
	wrapped error
}

// NewError builds a domain error. Context names the entity involved and may
// be empty.
func NewError(kind ErrorKind, detail, context string) *Error {
	return &Error{Kind: kind, Detail: detail, Context: context}
}

// Errorf builds a domain error with a formatted detail.
func Errorf(kind ErrorKind, context, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...), Context: context}
}

// WrapError attaches a cause to a domain error.
func WrapError(kind ErrorKind, context string, err error) *Error {
	return &Error{Kind: kind, Detail: err.Error(), Context: context, wrapped: err}
}

func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Detail, e.Context)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap exposes the wrapped cause for errors.Is/As chains.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// Is matches on kind so sentinel comparisons like
// errors.Is(err, common.NewError(common.ErrNotFound, "", "")) work; in
// practice KindOf is the ergonomic check.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return e.Kind == other.Kind
	}
	return false
}

// KindOf returns the domain kind of err, or "" when err carries none.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
