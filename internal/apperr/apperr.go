// Package apperr implements the domain error taxonomy shared by every
// command handler and projector: Unauthorized, CommandMalformed,
// SecretExceeded, and Unexpected, each mapped to a stable machine code
// and HTTP status.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Code is a stable, machine-readable error identifier.
type Code string

const (
	CodeUnauthorized     Code = "unauthorized"
	CodeCommandMalformed Code = "command_malformed"
	CodeSecretExceeded   Code = "secret_exceeded"
	CodeUnexpected       Code = "unexpected"
)

// Error is a domain error carrying an HTTP status and a stable code.
// Command handlers and projectors return *Error rather than bare errors
// so that the HTTP layer and the event-bus failure policy can classify
// a failure without string-matching.
type Error struct {
	Code    Code
	Status  int
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// Wrap attaches a lower-level cause to a domain error. The cause is part
// of Error() and reachable through Unwrap; HTTP responses use Message
// only (spec.md §7: "never leak secret material").
func (e *Error) Wrap(cause error) *Error {
	return &Error{Code: e.Code, Status: e.Status, Message: e.Message, cause: cause}
}

// Unauthorized maps to spec.md's Unauthorized variant: credential
// missing, invalid, or insufficient for the requested operation.
func Unauthorized(message string) *Error {
	return &Error{Code: CodeUnauthorized, Status: http.StatusUnauthorized, Message: message}
}

// Forbidden is the PermissionDenied half of Unauthorized: the credential
// is valid but does not carry the required role or project binding.
func Forbidden(message string) *Error {
	return &Error{Code: CodeUnauthorized, Status: http.StatusForbidden, Message: message}
}

// CommandMalformed maps to spec.md's CommandMalformed variant: input
// failed validation or referenced a missing entity.
func CommandMalformed(message string) *Error {
	return &Error{Code: CodeCommandMalformed, Status: http.StatusBadRequest, Message: message}
}

// SecretExceeded maps to spec.md's SecretExceeded variant: a soft quota
// (e.g. MAX_SECRET) was exceeded.
func SecretExceeded(message string) *Error {
	return &Error{Code: CodeSecretExceeded, Status: http.StatusTooManyRequests, Message: message}
}

// Unexpected wraps any I/O, codec, cryptography, or external-collaborator
// fault that does not fit the other three variants.
func Unexpected(message string, cause error) *Error {
	return (&Error{Code: CodeUnexpected, Status: http.StatusInternalServerError, Message: message}).Wrap(cause)
}

// As extracts an *Error from err, or classifies err as Unexpected if it
// is not already one of ours.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Unexpected("internal error", err)
}
