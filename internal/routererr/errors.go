// Package routererr defines the router's error taxonomy as sentinel
// values plus a typed error that carries a Kind for callers that need to
// branch on it (HTTP status mapping, retry policy) without string
// matching.
package routererr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way the failure semantics table does:
// input errors, upstream errors, local concurrency, and fatal errors.
type Kind string

const (
	KindUnknownRoute     Kind = "UnknownRoute"
	KindInvalidParams    Kind = "InvalidParameters"
	KindNotFound         Kind = "NotFound"
	KindInvalidCallback  Kind = "InvalidCallback"
	KindAuthError        Kind = "AuthError"
	KindUnavailable      Kind = "Unavailable"
	KindTransport        Kind = "Transport"
	KindRejected         Kind = "Rejected"
	KindConflict         Kind = "Conflict"
	KindContended        Kind = "Contended"
	KindLeaseLost        Kind = "LeaseLost"
	KindConfigLoadFailed Kind = "ConfigLoadFailure"
	KindInvalidConfig    Kind = "InvalidConfig"
	KindSubmitFailed     Kind = "SubmitFailed"
	KindUnknownEndpoint  Kind = "UnknownEndpoint"
)

// RouterError is the typed error carrying a Kind and a short message.
// Most callers only need errors.Is against the sentinels below; API
// handlers that need to render {error, reason} use As to recover the Kind.
type RouterError struct {
	Kind    Kind
	Message string
	Err     error // wrapped cause, may be nil
}

func (e *RouterError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *RouterError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, routererr.ErrNotFound) match a *RouterError with
// the corresponding Kind, so sentinel comparisons keep working even
// through New/Wrap.
func (e *RouterError) Is(target error) bool {
	t, ok := target.(*RouterError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// New builds a *RouterError of the given kind with a message.
func New(kind Kind, msg string) *RouterError {
	return &RouterError{Kind: kind, Message: msg}
}

// Wrap builds a *RouterError of the given kind wrapping a lower-level
// cause, following the %w idiom used across the package.
func Wrap(kind Kind, msg string, cause error) *RouterError {
	return &RouterError{Kind: kind, Message: msg, Err: cause}
}

// Sentinel instances for errors.Is comparisons where no extra message or
// wrapped cause is needed.
var (
	ErrUnknownRoute    = New(KindUnknownRoute, "")
	ErrNotFound        = New(KindNotFound, "")
	ErrInvalidCallback = New(KindInvalidCallback, "")
	ErrConflict        = New(KindConflict, "")
	ErrContended       = New(KindContended, "")
	ErrLeaseLost       = New(KindLeaseLost, "")
	ErrUnknownEndpoint = New(KindUnknownEndpoint, "")
	ErrInvalidConfig   = New(KindInvalidConfig, "")
)

// KindOf extracts the Kind from err if it (or something it wraps) is a
// *RouterError; returns ok=false otherwise.
func KindOf(err error) (Kind, bool) {
	var re *RouterError
	if errors.As(err, &re) {
		return re.Kind, true
	}
	return "", false
}
