// Package callerr provides the structured error taxonomy for call lifecycle
// and signaling operations. Every error carries a kind (which maps onto an
// HTTP status) and a stable code for clients and logs.
package callerr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into the closed taxonomy
type Kind string

const (
	// KindValidation is malformed or missing input (400-equivalent)
	KindValidation Kind = "validation"
	// KindNotFound is an unknown call or participant (404-equivalent)
	KindNotFound Kind = "not_found"
	// KindInvalidState is an operation not valid for the session's current
	// status (409-equivalent)
	KindInvalidState Kind = "invalid_state"
	// KindUpstream is a failure talking to the room membership resolver or
	// pushing an informational chat event; always logged and swallowed
	KindUpstream Kind = "upstream"
	// KindStore is a transactional store failure (500-equivalent)
	KindStore Kind = "store"
)

// Error is a classified, coded error
type Error struct {
	Kind    Kind
	Code    string
	Message string
	cause   error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates an error of the given kind and code
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Wrap creates an error of the given kind and code wrapping a cause
func Wrap(kind Kind, code, message string, cause error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, cause: cause}
}

// Validation creates a validation error
func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

// NotFound creates a not-found error
func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

// InvalidState creates an invalid-state error
func InvalidState(code, message string) *Error {
	return New(KindInvalidState, code, message)
}

// Upstream wraps a resolver or chat-push failure
func Upstream(code, message string, cause error) *Error {
	return Wrap(KindUpstream, code, message, cause)
}

// Store wraps a transactional store failure
func Store(code, message string, cause error) *Error {
	return Wrap(KindStore, code, message, cause)
}

// KindOf returns the kind of err, or KindStore for unclassified errors so
// that unexpected failures surface as 500s rather than leaking detail
func KindOf(err error) Kind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindStore
}

// IsKind reports whether err (or anything it wraps) has the given kind
func IsKind(err error, kind Kind) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind == kind
	}
	return false
}

// CodeOf returns the code of err, or empty for unclassified errors
func CodeOf(err error) string {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Code
	}
	return ""
}

// HTTPStatus maps an error to its HTTP status code
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
