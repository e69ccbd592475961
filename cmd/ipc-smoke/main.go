// Command ipc-smoke is a CI-friendly smoke test for the IPC hub.
//
// It validates:
//   - handshake + subprotocol selection
//   - auth.hello -> auth.ok session establishment
//   - unicast delivery between two authenticated peers
//   - broadcast fanout excluding the sender
//   - heartbeat ping/pong round trip
//   - unknown-destination rejection
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"ipchub/internal/envelope"
	"ipchub/internal/transport"
)

const defaultStepTimeout = 7 * time.Second

type smokeClient struct {
	name string
	tr   transport.Transport

	inbox chan envelope.Envelope
	errCh chan error

	ctx    context.Context
	cancel context.CancelFunc

	closeOnce sync.Once
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:17171/ws", "hub WebSocket URL")
		token   = flag.String("token", "dev-token", "shared auth token")
		timeout = flag.Duration("timeout", defaultStepTimeout, "per-step timeout")
		verbose = flag.Bool("v", false, "verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "svc-a", *wsURL, *token, *timeout, *verbose)
	defer a.Close()

	b := mustConnect(root, "svc-b", *wsURL, *token, *timeout, *verbose)
	defer b.Close()

	if *verbose {
		fmt.Printf("connected: a=svc-a b=svc-b\n")
	}

	mustUnicastRoundTrip(root, a, b, *timeout, *verbose)
	mustBroadcastFanout(root, a, b, *timeout, *verbose)
	mustHeartbeatRoundTrip(root, a, *timeout, *verbose)
	mustUnknownDestinationRejected(root, a, *timeout, *verbose)

	fmt.Println("OK: unicast, broadcast, heartbeat, and unknown-destination scenarios passed")
}

func (c *smokeClient) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		if c.tr != nil {
			_ = c.tr.Close(transport.CodeNormalClosure, "bye")
		}
	})
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, service, wsURL, token string, stepTimeout time.Duration, verbose bool) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	tr, err := transport.Dial(ctx, wsURL)
	if err != nil {
		fatalf("connect %s: %v", service, err)
	}

	readCtx, readCancel := context.WithCancel(context.Background())
	c := &smokeClient{
		name:   service,
		tr:     tr,
		inbox:  make(chan envelope.Envelope, 256),
		errCh:  make(chan error, 1),
		ctx:    readCtx,
		cancel: readCancel,
	}
	c.startReadLoop()

	helloPayload, _ := json.Marshal(envelope.AuthHelloPayload{Service: service, Token: token})
	hello := envelope.Envelope{
		V: envelope.Version, ID: service + "-hello", TS: time.Now().UTC().Format(time.RFC3339Nano),
		From: service, To: envelope.HubServiceName, Topic: envelope.TopicAuthHello,
		TraceID: service + "-hello-trace", Payload: helloPayload,
	}
	mustWriteWithTimeout(parent, tr, hello, stepTimeout)

	reply := c.mustReadUntilTopic(parent, envelope.TopicAuthOK, stepTimeout, verbose)

	var ok envelope.AuthOKPayload
	if err := json.Unmarshal(reply.Payload, &ok); err != nil {
		fatalf("unmarshal auth.ok payload (%s): %v", service, err)
	}
	if strings.TrimSpace(ok.SessionToken) == "" {
		fatalf("auth.ok missing session_token (%s)", service)
	}
	if reply.ReplyTo == nil || *reply.ReplyTo != hello.ID {
		fatalf("auth.ok reply_to mismatch (%s): want %q got %v", service, hello.ID, reply.ReplyTo)
	}

	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer func() {
			select {
			case c.errCh <- fmt.Errorf("read loop ended"):
			default:
			}
		}()
		for {
			raw, err := c.tr.Recv(c.ctx)
			if err != nil {
				select {
				case c.errCh <- err:
				default:
				}
				return
			}
			env, err := envelope.Validate(raw)
			if err != nil {
				select {
				case c.errCh <- fmt.Errorf("bad envelope: %w", err):
				default:
				}
				return
			}
			select {
			case c.inbox <- env:
			case <-c.ctx.Done():
				return
			}
		}
	}()
}

func mustUnicastRoundTrip(parent context.Context, a, b *smokeClient, stepTimeout time.Duration, verbose bool) {
	payload, _ := json.Marshal(map[string]string{"greeting": "hello from a"})
	env := envelope.Envelope{
		V: envelope.Version, ID: "msg-1", TS: time.Now().UTC().Format(time.RFC3339Nano),
		From: a.name, To: b.name, Topic: "demo.greeting",
		TraceID: "trace-unicast", Payload: payload,
	}
	mustWriteWithTimeout(parent, a.tr, env, stepTimeout)

	got := b.mustReadUntilTopic(parent, "demo.greeting", stepTimeout, verbose)
	if got.From != a.name {
		fatalf("unicast: expected from=%s, got %s", a.name, got.From)
	}
}

func mustBroadcastFanout(parent context.Context, a, b *smokeClient, stepTimeout time.Duration, verbose bool) {
	payload, _ := json.Marshal(map[string]string{"status": "ready"})
	env := envelope.Envelope{
		V: envelope.Version, ID: "msg-2", TS: time.Now().UTC().Format(time.RFC3339Nano),
		From: a.name, To: envelope.DestinationBroadcast, Topic: "demo.status",
		TraceID: "trace-broadcast", Payload: payload,
	}
	mustWriteWithTimeout(parent, a.tr, env, stepTimeout)

	got := b.mustReadUntilTopic(parent, "demo.status", stepTimeout, verbose)
	if got.To != envelope.DestinationBroadcast {
		fatalf("broadcast: expected to=broadcast, got %s", got.To)
	}

	mustAssertNoTopic(parent, a, "demo.status", 500*time.Millisecond, verbose)
}

func mustHeartbeatRoundTrip(parent context.Context, a *smokeClient, stepTimeout time.Duration, verbose bool) {
	env := envelope.Envelope{
		V: envelope.Version, ID: "hb-1", TS: time.Now().UTC().Format(time.RFC3339Nano),
		From: a.name, To: envelope.HubServiceName, Topic: envelope.TopicHBPing,
		TraceID: "trace-hb", Payload: json.RawMessage(`{}`),
	}
	mustWriteWithTimeout(parent, a.tr, env, stepTimeout)

	pong := a.mustReadUntilTopic(parent, envelope.TopicHBPong, stepTimeout, verbose)
	if pong.From != envelope.HubServiceName {
		fatalf("heartbeat: expected pong from hub, got %s", pong.From)
	}
}

func mustUnknownDestinationRejected(parent context.Context, a *smokeClient, stepTimeout time.Duration, verbose bool) {
	env := envelope.Envelope{
		V: envelope.Version, ID: "msg-3", TS: time.Now().UTC().Format(time.RFC3339Nano),
		From: a.name, To: "no-such-service", Topic: "demo.ghost",
		TraceID: "trace-unknown", Payload: json.RawMessage(`{}`),
	}
	mustWriteWithTimeout(parent, a.tr, env, stepTimeout)

	got := a.mustReadUntilTopic(parent, envelope.TopicIPCError, stepTimeout, verbose)
	var ep envelope.ErrorPayload
	if err := json.Unmarshal(got.Payload, &ep); err != nil {
		fatalf("unmarshal ipc.error payload: %v", err)
	}
	if ep.Code != "ERR_UNKNOWN_DESTINATION" {
		fatalf("expected ERR_UNKNOWN_DESTINATION, got %s", ep.Code)
	}
}

func mustAssertNoTopic(parent context.Context, c *smokeClient, topic string, dur time.Duration, verbose bool) {
	t := time.NewTimer(dur)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			return
		case <-parent.Done():
			fatalf("context done while asserting no topic (%s): %v", c.name, parent.Err())
		case err := <-c.errCh:
			fatalf("read error while asserting no topic (%s): %v", c.name, err)
		case env := <-c.inbox:
			if verbose {
				fmt.Fprintf(os.Stderr, "[%s] recv topic=%s id=%s\n", c.name, env.Topic, env.ID)
			}
			if env.Topic == topic {
				fatalf("unexpected topic=%s (%s)", topic, c.name)
			}
		}
	}
}

func mustWriteWithTimeout(parent context.Context, tr transport.Transport, env envelope.Envelope, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		fatalf("marshal envelope: %v", err)
	}
	if err := tr.Send(ctx, b); err != nil {
		fatalf("write: %v", err)
	}
}

func (c *smokeClient) mustReadUntilTopic(parent context.Context, topic string, stepTimeout time.Duration, verbose bool) envelope.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for topic=%s (%s)", topic, c.name)
		case err := <-c.errCh:
			fatalf("read error (%s): %v", c.name, err)
		case env := <-c.inbox:
			if verbose {
				fmt.Fprintf(os.Stderr, "[%s] recv topic=%s id=%s\n", c.name, env.Topic, env.ID)
			}
			if env.Topic == topic {
				return env
			}
		}
	}
}

func fatalf(format string, args ...any) {
	_, _ = fmt.Fprintf(os.Stderr, "ipc-smoke: "+format+"\n", args...)
	os.Exit(1)
}
