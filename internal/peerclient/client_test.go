package peerclient

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"ipchub/internal/envelope"
	"ipchub/internal/transport"
)

// pipeTransport is an in-process, channel-backed transport.Transport used
// to unit test Client without a real network connection.
type pipeTransport struct {
	in  chan []byte
	out chan []byte
}

func newPipePair() (*pipeTransport, *pipeTransport) {
	a := make(chan []byte, 8)
	b := make(chan []byte, 8)
	return &pipeTransport{in: a, out: b}, &pipeTransport{in: b, out: a}
}

func (p *pipeTransport) Recv(ctx context.Context) ([]byte, error) {
	select {
	case b := <-p.in:
		return b, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeTransport) Send(ctx context.Context, data []byte) error {
	select {
	case p.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeTransport) Close(int, string) error { return nil }

var _ transport.Transport = (*pipeTransport)(nil)

func TestClientConnectHandshakeSuccess(t *testing.T) {
	clientSide, hubSide := newPipePair()

	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)), "test-svc", []string{"cap.a"})
	c.mu.Lock()
	c.tr = clientSide
	c.mu.Unlock()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		done <- c.connectOverExistingTransport(ctx)
	}()

	raw, err := hubSide.Recv(context.Background())
	if err != nil {
		t.Fatalf("hub recv: %v", err)
	}
	env, err := envelope.Validate(raw)
	if err != nil {
		t.Fatalf("validate hello: %v", err)
	}
	if env.Topic != envelope.TopicAuthHello {
		t.Fatalf("expected auth.hello, got %q", env.Topic)
	}

	okPayload, _ := json.Marshal(envelope.AuthOKPayload{Service: "test-svc", SessionToken: "tok-123"})
	okEnv := envelope.Envelope{
		V: envelope.Version, ID: "01OK", TS: "2026-08-01T00:00:00Z",
		From: envelope.HubServiceName, To: "test-svc", Topic: envelope.TopicAuthOK,
		TraceID: env.TraceID, Payload: okPayload,
	}
	okRaw, _ := json.Marshal(okEnv)
	if err := hubSide.Send(context.Background(), okRaw); err != nil {
		t.Fatalf("hub send auth.ok: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	if !c.Authenticated() {
		t.Fatalf("expected client to be authenticated")
	}
}

func TestClientMessageLoopDispatchesAndSwallowsPong(t *testing.T) {
	clientSide, hubSide := newPipePair()

	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)), "test-svc", nil)
	c.mu.Lock()
	c.tr = clientSide
	c.authed = true
	c.mu.Unlock()

	received := make(chan envelope.Envelope, 1)
	c.OnTopic("task.assigned", func(env envelope.Envelope) {
		received <- env
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	loopErr := make(chan error, 1)
	go func() { loopErr <- c.MessageLoop(ctx) }()

	pongEnv := envelope.Envelope{
		V: envelope.Version, ID: "01PONG", TS: "2026-08-01T00:00:00Z",
		From: envelope.HubServiceName, To: "test-svc", Topic: envelope.TopicHBPong,
		TraceID: "t1", Payload: json.RawMessage(`{}`),
	}
	pongRaw, _ := json.Marshal(pongEnv)
	if err := hubSide.Send(context.Background(), pongRaw); err != nil {
		t.Fatalf("send pong: %v", err)
	}

	taskEnv := envelope.Envelope{
		V: envelope.Version, ID: "01TASK", TS: "2026-08-01T00:00:00Z",
		From: "scheduler", To: "test-svc", Topic: "task.assigned",
		TraceID: "t2", Payload: json.RawMessage(`{"task_id":"42"}`),
	}
	taskRaw, _ := json.Marshal(taskEnv)
	if err := hubSide.Send(context.Background(), taskRaw); err != nil {
		t.Fatalf("send task: %v", err)
	}

	select {
	case env := <-received:
		if env.Topic != "task.assigned" {
			t.Fatalf("unexpected topic dispatched: %s", env.Topic)
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for handler dispatch")
	}

	cancel()
	<-loopErr
}

// connectOverExistingTransport runs the same handshake as Connect but
// skips dialing, for tests that pre-wire a transport.
func (c *Client) connectOverExistingTransport(ctx context.Context) error {
	return c.handshake(ctx)
}

func TestCalculateBackoffGrowsAndCaps(t *testing.T) {
	if got := calculateBackoff(0); got != baseReconnectDelay {
		t.Fatalf("attempt 0: expected base delay, got %v", got)
	}
	prev := calculateBackoff(1)
	for attempt := 2; attempt <= 6; attempt++ {
		got := calculateBackoff(attempt)
		if got < prev {
			t.Fatalf("attempt %d: expected backoff to grow, got %v after %v", attempt, got, prev)
		}
		prev = got
	}
	if got := calculateBackoff(100); got != maxReconnectDelay {
		t.Fatalf("attempt 100: expected capped delay %v, got %v", maxReconnectDelay, got)
	}
}

func TestRunStopsOnContextCancellation(t *testing.T) {
	c := New(slog.New(slog.NewTextHandler(io.Discard, nil)), "test-svc", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := c.Run(ctx, "ws://127.0.0.1:0/ws")
	if err == nil {
		t.Fatalf("expected Run to return an error for a cancelled context")
	}
}
