// Package apierr defines the tagged error kinds every fallible component
// operation returns (spec.md §7). The HTTP boundary (internal/httpserver) is
// the single place that maps a Kind to a status code and response body; no
// other layer should raise or format HTTP status directly for a business
// error. This is the Go equivalent of the source's exception hierarchy
// (NotFound, AccessDenied, Conflict, Unauthenticated, ...).
package apierr

import (
	"errors"
	"fmt"
)

// Kind tags a business error with the taxonomy from spec.md §7.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindAccessDenied    Kind = "access_denied"
	KindValidation      Kind = "validation_failed"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindRateLimited      Kind = "rate_limited"
	KindTransient        Kind = "transient"
	KindPolicyMalformed  Kind = "policy_malformed"
)

// Error is a tagged business error. Message is safe to surface to the
// caller; Kind selects the HTTP status. Internal diagnostics (wrapped errors)
// must never be included in Message for KindUnauthenticated per spec.md §4.3.
type Error struct {
	Kind    Kind
	Message string
	Details any
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// New creates a tagged error with no internal cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap tags an internal error with a kind, preserving it for logs via
// errors.Unwrap while keeping Message caller-safe.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, err: cause}
}

// WithDetails attaches a structured detail payload (e.g. field errors).
func (e *Error) WithDetails(details any) *Error {
	e.Details = details
	return e
}

// As extracts an *Error from err, if any.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// Unauthenticated collapses any authentication failure into a single kind so
// internal diagnostics never leak (spec.md §4.3).
func Unauthenticated() *Error {
	return New(KindUnauthenticated, "authentication failed")
}

func AccessDenied(principalID, action, resource string, policyID *string) *Error {
	return (&Error{Kind: KindAccessDenied, Message: "access denied"}).WithDetails(map[string]any{
		"principal_id": principalID,
		"action":       action,
		"resource":     resource,
		"policy_id":    policyID,
	})
}

func NotFound(resource string) *Error {
	return New(KindNotFound, resource+" not found")
}

func Conflict(message string) *Error {
	return New(KindConflict, message)
}

func Validation(message string, details any) *Error {
	return (&Error{Kind: KindValidation, Message: message}).WithDetails(details)
}
