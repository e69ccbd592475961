// Package transport abstracts the framed bidirectional byte stream the hub
// and peer clients speak over. The reference deployment binds a text-frame
// WebSocket; Transport keeps the hub and peer-client state machines free of
// any direct dependency on that choice.
package transport

import "context"

// Close codes used by the protocol (spec §6).
const (
	CodeNormalClosure    = 1000
	CodeHeartbeatTimeout = 1001
	CodePolicyViolation  = 1008
	CodeAbnormalClosure  = 1006
)

// Transport is a single bidirectional, ordered, framed byte stream. A
// Transport has exactly one reader and one writer goroutine by contract:
// callers must serialize their own Send calls (the hub does this by
// routing all writes through the owning session's single writer
// goroutine).
type Transport interface {
	// Recv blocks until a complete frame is available, ctx is done, or the
	// connection is closed.
	Recv(ctx context.Context) ([]byte, error)

	// Send writes one frame. It blocks until the write completes, ctx is
	// done, or the connection is closed.
	Send(ctx context.Context, data []byte) error

	// Close closes the connection with the given close code and reason.
	// Idempotent.
	Close(code int, reason string) error
}
