package hub

import (
	"context"
	"testing"

	"ipchub/internal/transport"
)

func newTestSession() *session {
	return newSession(noopTransport{}, 4)
}

// noopTransport satisfies transport.Transport for registry/router unit
// tests that never actually perform I/O.
type noopTransport struct{}

func (noopTransport) Recv(ctx context.Context) ([]byte, error) { return nil, nil }
func (noopTransport) Send(ctx context.Context, _ []byte) error { return nil }
func (noopTransport) Close(int, string) error                  { return nil }

var _ transport.Transport = noopTransport{}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := newRegistry()
	s := newTestSession()

	if !r.register("svc-a", s) {
		t.Fatalf("expected first registration to succeed")
	}
	got, ok := r.lookup("svc-a")
	if !ok || got != s {
		t.Fatalf("expected lookup to return registered session")
	}
}

func TestRegistryRejectsDuplicateLiveSession(t *testing.T) {
	r := newRegistry()
	a := newTestSession()
	b := newTestSession()

	if !r.register("svc-a", a) {
		t.Fatalf("expected first registration to succeed")
	}
	if r.register("svc-a", b) {
		t.Fatalf("expected duplicate registration to be rejected while a is live")
	}
}

func TestRegistryAllowsReclaimAfterClose(t *testing.T) {
	r := newRegistry()
	a := newTestSession()
	b := newTestSession()

	r.register("svc-a", a)
	a.Close()

	if !r.register("svc-a", b) {
		t.Fatalf("expected reclaim to succeed once prior session closed")
	}
	got, _ := r.lookup("svc-a")
	if got != b {
		t.Fatalf("expected lookup to return reclaiming session")
	}
}

func TestRegistryDropIsIdempotentAndRace(t *testing.T) {
	r := newRegistry()
	a := newTestSession()
	b := newTestSession()

	r.register("svc-a", a)
	r.drop("svc-a", a)
	if _, ok := r.lookup("svc-a"); ok {
		t.Fatalf("expected svc-a to be gone after drop")
	}

	// Dropping again is a no-op.
	r.drop("svc-a", a)

	// A drop naming a stale session must not evict a session that has
	// since reclaimed the name.
	r.register("svc-a", b)
	r.drop("svc-a", a)
	if got, ok := r.lookup("svc-a"); !ok || got != b {
		t.Fatalf("expected stale drop to leave reclaiming session b in place")
	}
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := newRegistry()
	a := newTestSession()
	r.register("svc-a", a)

	snap := r.snapshot()
	r.drop("svc-a", a)

	if _, ok := snap["svc-a"]; !ok {
		t.Fatalf("expected snapshot taken before drop to still contain svc-a")
	}
	if r.count() != 0 {
		t.Fatalf("expected live registry count to reflect the drop")
	}
}
