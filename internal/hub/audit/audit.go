// Package audit records session lifecycle events (connect, auth outcome,
// disconnect, liveness eviction) for operational visibility. It never
// sees message payloads: the hub does not log or persist the content
// peers exchange, only the fact and outcome of session transitions.
package audit

import (
	"context"
	"time"
)

// EventKind enumerates the lifecycle events the hub records.
type EventKind string

const (
	EventConnected       EventKind = "connected"
	EventAuthOK          EventKind = "auth_ok"
	EventAuthFailed      EventKind = "auth_failed"
	EventDisconnected    EventKind = "disconnected"
	EventLivenessEvicted EventKind = "liveness_evicted"
)

// Event is one recorded lifecycle transition.
type Event struct {
	Kind    EventKind
	Service string
	Detail  string
	At      time.Time
}

// Store persists lifecycle events. Implementations must not block the
// caller for long: the hub calls Record from hot paths (gateway accept,
// liveness sweep) and discards a returned error; it never fails the
// operation that triggered the event.
type Store interface {
	Record(ctx context.Context, ev Event) error
	Close() error
}
