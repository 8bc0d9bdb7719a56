// Package errors provides structured error handling for the protocol core.
// It splits failures along the boundary the client contract depends on:
// connection-establishment and session faults are raised to callers, while
// tool-call failures are normalized into result envelopes by the client.
package errors

import (
	"errors"
	"fmt"
)

// Category classifies an error for handling decisions
type Category string

const (
	CategoryConnect   Category = "connect"
	CategorySession   Category = "session"
	CategoryCatalog   Category = "catalog"
	CategoryTransport Category = "transport"
	CategoryTimeout   Category = "timeout"
	CategoryShutdown  Category = "shutdown"
	CategoryInternal  Category = "internal"
)

// Severity indicates how critical an error is
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Error is the structured error type used throughout the module. It carries a
// JSON-RPC compatible code, a category for handling decisions, and the
// wrapped cause for errors.Is/As traversal.
type Error struct {
	code     int
	message  string
	category Category
	severity Severity
	cause    error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Code returns the JSON-RPC compatible error code
func (e *Error) Code() int { return e.code }

// Category returns the error category
func (e *Error) Category() Category { return e.category }

// Severity returns the error severity
func (e *Error) Severity() Severity { return e.severity }

// Unwrap returns the underlying cause
func (e *Error) Unwrap() error { return e.cause }

// Error codes in the implementation-defined JSON-RPC range
const (
	CodeConnectFailed    = -32010
	CodeSessionInit      = -32011
	CodeSessionNotActive = -32012
	CodeCatalogFetch     = -32013
	CodeTransportClosed  = -32014
	CodeRequestTimeout   = -32015
	CodeShutdownFailed   = -32016
	CodeInternal         = -32603
)

// NewConnectError reports that the underlying connection could not be opened
// (DNS, refused, timeout). Fatal to the connect attempt; never retried below
// the reconnect controller.
func NewConnectError(cause error) *Error {
	return &Error{
		code:     CodeConnectFailed,
		message:  "failed to open connection",
		category: CategoryConnect,
		severity: SeverityCritical,
		cause:    cause,
	}
}

// NewSessionInitError reports a handshake that completed at the transport
// level without producing a valid session identifier. Callers treat it
// identically to a connect failure.
func NewSessionInitError(detail string, cause error) *Error {
	msg := "session initialization failed"
	if detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, detail)
	}
	return &Error{
		code:     CodeSessionInit,
		message:  msg,
		category: CategorySession,
		severity: SeverityCritical,
		cause:    cause,
	}
}

// NewSessionNotActiveError reports an attempt to send a non-initialize RPC
// while no session is active. Raised locally, without a network round trip.
func NewSessionNotActiveError(state string) *Error {
	return &Error{
		code:     CodeSessionNotActive,
		message:  fmt.Sprintf("no active session (state %s)", state),
		category: CategorySession,
		severity: SeverityError,
	}
}

// NewCatalogFetchError reports a tools/list failure after a successful
// handshake. Non-fatal: the session stays usable with an empty catalog.
func NewCatalogFetchError(cause error) *Error {
	return &Error{
		code:     CodeCatalogFetch,
		message:  "tool catalog fetch failed",
		category: CategoryCatalog,
		severity: SeverityWarning,
		cause:    cause,
	}
}

// NewTransportClosedError reports a hard transport failure. Every request
// pending on the transport is failed with this error, since no further
// correlation is possible.
func NewTransportClosedError(cause error) *Error {
	return &Error{
		code:     CodeTransportClosed,
		message:  "transport closed",
		category: CategoryTransport,
		severity: SeverityCritical,
		cause:    cause,
	}
}

// NewTimeoutError reports a single request exceeding its deadline. It removes
// only that request; other in-flight calls on the connection are unaffected.
func NewTimeoutError(method string, cause error) *Error {
	return &Error{
		code:     CodeRequestTimeout,
		message:  fmt.Sprintf("request %s timed out", method),
		category: CategoryTimeout,
		severity: SeverityError,
		cause:    cause,
	}
}

// NewShutdownWarning reports a failed shutdown RPC. Logged only, never
// escalated: local cleanup proceeds regardless.
func NewShutdownWarning(cause error) *Error {
	return &Error{
		code:     CodeShutdownFailed,
		message:  "shutdown handshake failed",
		category: CategoryShutdown,
		severity: SeverityWarning,
		cause:    cause,
	}
}

// NewInternalError wraps an unexpected failure.
func NewInternalError(detail string, cause error) *Error {
	return &Error{
		code:     CodeInternal,
		message:  detail,
		category: CategoryInternal,
		severity: SeverityError,
		cause:    cause,
	}
}

// IsCategory checks whether any error in err's chain has the given category.
func IsCategory(err error, category Category) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.category == category
	}
	return false
}

// IsCode checks whether any error in err's chain has the given code.
func IsCode(err error, code int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.code == code
	}
	return false
}

// IsConnectError reports whether err is a connection-establishment failure.
func IsConnectError(err error) bool { return IsCategory(err, CategoryConnect) }

// IsSessionInitError reports whether err is a handshake failure.
func IsSessionInitError(err error) bool { return IsCode(err, CodeSessionInit) }

// IsCatalogFetchError reports whether err is a non-fatal catalog failure.
func IsCatalogFetchError(err error) bool { return IsCategory(err, CategoryCatalog) }

// IsTransportClosed reports whether err marks a dead transport.
func IsTransportClosed(err error) bool { return IsCode(err, CodeTransportClosed) }

// IsTimeout reports whether err is a per-request deadline expiry.
func IsTimeout(err error) bool { return IsCategory(err, CategoryTimeout) }
