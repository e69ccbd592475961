// Package ipcerr defines the hub's stable, machine-readable error taxonomy.
//
// Every error the hub can surface over the wire (in an ipc.error or
// auth.error payload) is one of the Code sentinels below. Callers use
// errors.Is against the Code, or errors.As against *Error for the full
// Op/Message context.
package ipcerr

import (
	"errors"
	"fmt"
)

// Code is a stable, wire-visible error code.
type Code string

const (
	MissingKeys        Code = "ERR_MISSING_KEYS"
	UnsupportedVersion Code = "ERR_UNSUPPORTED_VERSION"
	InvalidPayload     Code = "ERR_INVALID_PAYLOAD"
	InvalidField       Code = "ERR_INVALID_FIELD"
	InvalidJSON        Code = "ERR_INVALID_JSON"
	AuthRequired       Code = "ERR_AUTH_REQUIRED"
	AuthInvalid        Code = "ERR_AUTH_INVALID"
	DuplicateService   Code = "ERR_DUPLICATE_SERVICE"
	UnknownDestination Code = "ERR_UNKNOWN_DESTINATION"

	// Backpressure is not part of the original wire taxonomy; the hub
	// emits it to a sender whose unicast message was dropped because the
	// destination's send queue is saturated, so the sender can observe
	// drops instead of silently losing messages.
	Backpressure Code = "ERR_BACKPRESSURE"

	// RateLimited is emitted when a session exceeds the hub's
	// per-session frame rate before the connection is force-closed.
	RateLimited Code = "ERR_RATE_LIMITED"
)

// Error is a typed operation error carrying a stable Code for wire
// serialization and errors.Is/As interoperability.
type Error struct {
	Op      string
	Code    Code
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

// Is lets errors.Is(err, ipcerr.New("", code, "")) match on Code alone.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New constructs an *Error. op names the component/operation that raised it
// (e.g. "envelope.Validate", "hub.Router").
func New(op string, code Code, message string) *Error {
	return &Error{Op: op, Code: code, Message: message}
}

// CodeOf extracts the Code from err, if it is (or wraps) an *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}
