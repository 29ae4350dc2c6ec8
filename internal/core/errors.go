package core

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of error categories the core can return.
// The framing layer (internal/httpapi) maps each kind to an HTTP status.
type ErrorKind string

const (
	ErrInvalidRequest  ErrorKind = "INVALID_REQUEST"
	ErrNotFound        ErrorKind = "NOT_FOUND"
	ErrNoModelAvail    ErrorKind = "NO_MODEL_AVAILABLE"
	ErrUpstreamError   ErrorKind = "UPSTREAM_ERROR"
	ErrUpstreamTimeout ErrorKind = "UPSTREAM_TIMEOUT"
	ErrRateLimited     ErrorKind = "RATE_LIMITED"
	ErrCancelled       ErrorKind = "CANCELLED"
	ErrInternal        ErrorKind = "INTERNAL"
)

// Error is the core's framing-agnostic result type. It replaces the
// exception-for-control-flow pattern: callers switch on Kind instead of
// catching typed exceptions.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error // optional wrapped cause
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError builds an *Error with the given kind and message.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error carrying an underlying cause.
func Wrap(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to ErrInternal for
// errors not produced by this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrInternal
}
