// Package errs provides the unified error type used across all of ossgate.
//
// Every subsystem (storage drivers, signer, ledger, server) wraps its native
// errors into *errs.Error before returning them to callers. Callers branch on
// the Is* predicates instead of importing SDK-specific error types.
//
// Usage:
//
//	// In a driver, wrap native errors:
//	return errs.Transport("list objects failed", ossErr)
//
//	// In a handler, check the error kind:
//	if errs.IsInvalidArgument(err) {
//	    http.Error(w, err.Error(), http.StatusBadRequest)
//	}
package errs

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrKind categorises an error without exposing SDK-specific codes.
type ErrKind int

const (
	ErrKindUnknown         ErrKind = iota
	ErrKindTransport               // network, auth or vendor-side failure during a remote call
	ErrKindInvalidArgument         // bad arguments from the caller
	ErrKindConfiguration           // missing or invalid credential/endpoint context
)

func (k ErrKind) String() string {
	switch k {
	case ErrKindTransport:
		return "transport"
	case ErrKindInvalidArgument:
		return "invalid_argument"
	case ErrKindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Error is the single error type returned by all ossgate subsystems.
//
// Transport errors keep the vendor error Code ("NoSuchBucket", "AccessDenied", …)
// and the HTTP StatusCode of the failed call, so callers can tell a missing
// bucket apart from a network failure without a dedicated kind.
type Error struct {
	Kind       ErrKind
	Message    string
	Code       string
	StatusCode int
	Cause      error // original SDK-level error, preserved for logging
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Code != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Code)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap allows errors.Is / errors.As to traverse the cause chain.
func (e *Error) Unwrap() error {
	return e.Cause
}

// --- Constructors ---

// New creates an *Error with the given kind and message and no cause.
func New(kind ErrKind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Wrap creates an *Error with the given kind, message, and an underlying cause.
func Wrap(kind ErrKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// Transport wraps a failed remote call.
func Transport(msg string, cause error) *Error {
	return Wrap(ErrKindTransport, msg, cause)
}

// Remote wraps a failed remote call that carried a vendor error code and status.
func Remote(msg, code string, status int, cause error) *Error {
	return &Error{Kind: ErrKindTransport, Message: msg, Code: code, StatusCode: status, Cause: cause}
}

// InvalidArgument reports bad caller input.
func InvalidArgument(format string, args ...any) *Error {
	return New(ErrKindInvalidArgument, fmt.Sprintf(format, args...))
}

// Configuration reports a missing or invalid setting.
func Configuration(format string, args ...any) *Error {
	return New(ErrKindConfiguration, fmt.Sprintf(format, args...))
}

// --- Predicates ---

// IsTransport reports whether err came from a failed remote call.
func IsTransport(err error) bool {
	return kindOf(err) == ErrKindTransport
}

// IsInvalidArgument reports whether err was caused by bad input from the caller.
func IsInvalidArgument(err error) bool {
	return kindOf(err) == ErrKindInvalidArgument
}

// IsConfiguration reports whether err was caused by invalid configuration.
func IsConfiguration(err error) bool {
	return kindOf(err) == ErrKindConfiguration
}

// IsNotFound reports whether err is a transport failure for a missing
// bucket or object.
func IsNotFound(err error) bool {
	e, ok := as(err)
	if !ok || e.Kind != ErrKindTransport {
		return false
	}
	switch e.Code {
	case "NoSuchBucket", "NoSuchKey", "NoSuchUpload":
		return true
	}
	return e.StatusCode == http.StatusNotFound
}

// IsPermissionDenied reports whether err is an access control failure.
func IsPermissionDenied(err error) bool {
	e, ok := as(err)
	if !ok || e.Kind != ErrKindTransport {
		return false
	}
	switch e.Code {
	case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "SecurityTokenExpired":
		return true
	}
	return e.StatusCode == http.StatusForbidden || e.StatusCode == http.StatusUnauthorized
}

// IsTimeout reports whether err was caused by a deadline or context cancellation.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	e, ok := as(err)
	if !ok {
		return false
	}
	return e.Code == "RequestTimeout"
}

// KindOf extracts the ErrKind from any error in the chain.
func KindOf(err error) ErrKind {
	return kindOf(err)
}

func kindOf(err error) ErrKind {
	if e, ok := as(err); ok {
		return e.Kind
	}
	return ErrKindUnknown
}

func as(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}
