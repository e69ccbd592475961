package hub

import (
	"sync"
	"sync/atomic"
	"time"

	"ipchub/internal/transport"
)

// sessionState is the connection-scoped state machine (spec §3).
type sessionState int32

const (
	stateAwaitingAuth sessionState = iota
	stateAuthenticated
	stateClosing
)

func (s sessionState) String() string {
	switch s {
	case stateAwaitingAuth:
		return "awaiting_auth"
	case stateAuthenticated:
		return "authenticated"
	case stateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// session is one connected peer. Once authenticated, exactly one
// goroutine (the writer, started by the gateway) calls transport.Send on
// a session's transport; all other code enqueues frames onto Send. Before
// that, the gateway's handshake writes auth.ok/auth.error directly.
type session struct {
	transport transport.Transport

	// name is the authenticated service name. Empty until authenticated.
	name atomic.Value // string

	state    atomic.Int32
	lastSeen atomic.Int64 // unix nanos

	// Send carries pre-encoded outbound frames (raw JSON bytes) so the
	// router can forward messages byte-for-byte without re-marshaling.
	Send chan []byte

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(t transport.Transport, sendQueueSize int) *session {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	s := &session{
		transport: t,
		Send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
	}
	s.name.Store("")
	s.state.Store(int32(stateAwaitingAuth))
	s.touch(time.Now())
	return s
}

func (s *session) Name() string {
	v, _ := s.name.Load().(string)
	return v
}

func (s *session) setName(name string) {
	s.name.Store(name)
}

func (s *session) State() sessionState {
	return sessionState(s.state.Load())
}

func (s *session) setState(st sessionState) {
	s.state.Store(int32(st))
}

func (s *session) touch(t time.Time) {
	s.lastSeen.Store(t.UnixNano())
}

func (s *session) LastSeen() time.Time {
	return time.Unix(0, s.lastSeen.Load())
}

// Done returns a channel closed once the session starts shutting down.
func (s *session) Done() <-chan struct{} {
	if s == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return s.done
}

// Close signals shutdown goroutines to stop. Idempotent. Does not close
// Send, so concurrent routers never panic writing to it.
func (s *session) Close() {
	if s == nil {
		return
	}
	s.closeOnce.Do(func() {
		s.setState(stateClosing)
		close(s.done)
	})
}

// enqueue offers a frame to the session's send queue without blocking.
// It reports false if the session is shutting down or the queue is
// saturated (backpressure drop, spec §9 decision).
func (s *session) enqueue(frame []byte) bool {
	select {
	case <-s.Done():
		return false
	default:
	}

	select {
	case s.Send <- frame:
		return true
	default:
		return false
	}
}
