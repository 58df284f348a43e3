// Package apperr defines a small, transport-independent error kind shared
// by internal/store and internal/api, so a storage-layer error can carry
// enough information for a wire adapter to pick the right HTTP status
// without either package importing the other's types. Adapted from the
// reference api package's ErrorCode table, generalized from an
// HTTP-status-keyed string enum into a closed Kind any layer can attach
// to a plain error.
package apperr

import "errors"

// Kind classifies an error by how a caller should react to it, not by
// where it originated.
type Kind string

const (
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindValidation   Kind = "validation"
	KindUnauthorized Kind = "unauthorized"
	KindTransient    Kind = "transient"
)

// Error pairs a Kind with the underlying cause. Wrap with Wrap/New;
// unwrap with errors.As or KindOf.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an *Error of the given kind with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap attaches kind to an existing error, preserving it for errors.Is/As.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, walking the unwrap chain. Returns
// ("", false) if err (or nothing in its chain) is an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
