// Package peerclient implements the connect/authenticate/dispatch state
// machine a service uses to talk to the hub, mirroring the lifecycle the
// hub's gateway expects: dial, send auth.hello, await auth.ok or
// auth.error, then exchange envelopes while a background goroutine sends
// periodic hb.ping frames.
package peerclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"ipchub/internal/envelope"
	"ipchub/internal/ids"
	"ipchub/internal/token"
	"ipchub/internal/transport"
)

// HeartbeatInterval is how often the client pings the hub while
// connected; it is well below the hub's default 20s liveness timeout.
const HeartbeatInterval = 5 * time.Second

// authTimeout bounds how long connect waits for auth.ok/auth.error.
const authTimeout = 5 * time.Second

// baseReconnectDelay is the delay before the first reconnect attempt;
// maxReconnectDelay caps the exponential backoff Run applies between
// attempts (spec §4.6 step 3/5: retry after backoff on auth.error or a
// transport close).
const (
	baseReconnectDelay = 1 * time.Second
	maxReconnectDelay  = 30 * time.Second
)

// Handler processes one inbound envelope for a given topic.
type Handler func(env envelope.Envelope)

// Client is a connected, authenticated peer. Zero value is not usable;
// construct with New.
type Client struct {
	log          *slog.Logger
	serviceName  string
	capabilities []string

	mu           sync.RWMutex
	tr           transport.Transport
	sessionToken string
	authed       bool

	handlersMu sync.RWMutex
	handlers   map[string]Handler
}

// New constructs a Client identified as serviceName with the given
// capability tags (opaque strings the hub does not interpret).
func New(log *slog.Logger, serviceName string, capabilities []string) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		log:          log,
		serviceName:  serviceName,
		capabilities: capabilities,
		handlers:     make(map[string]Handler),
	}
}

// OnTopic registers a handler invoked from MessageLoop for every inbound
// envelope whose Topic matches. hb.pong is handled internally and never
// reaches user handlers.
func (c *Client) OnTopic(topic string, h Handler) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[topic] = h
}

// Connect dials url, performs the auth.hello/auth.ok handshake, and
// returns once authenticated or the handshake fails.
func (c *Client) Connect(ctx context.Context, url string) error {
	tr, err := transport.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("peerclient: dial: %w", err)
	}

	c.mu.Lock()
	c.tr = tr
	c.mu.Unlock()

	if err := c.handshake(ctx); err != nil {
		_ = tr.Close(transport.CodeAbnormalClosure, "handshake failed")
		return err
	}
	return nil
}

// Run maintains an authenticated connection to url until ctx is done. It
// connects, retrying after an exponential backoff while the dial or the
// handshake fails (including on auth.error), then runs MessageLoop and
// Heartbeat concurrently; when either ends (a failed receive or send on
// the transport), it waits an exponential backoff and reconnects. Run
// only returns once ctx is done, propagating ctx.Err().
func (c *Client) Run(ctx context.Context, url string) error {
	attempt := 0
	for {
		if err := c.Connect(ctx, url); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.log.Warn("peerclient.connect_failed", "service", c.serviceName, "attempt", attempt, "err", err)
			if !sleepBackoff(ctx, attempt) {
				return ctx.Err()
			}
			attempt++
			continue
		}

		attempt = 0
		sessCtx, cancel := context.WithCancel(ctx)
		g, gctx := errgroup.WithContext(sessCtx)
		g.Go(func() error { return c.MessageLoop(gctx) })
		g.Go(func() error { return c.Heartbeat(gctx) })
		sessErr := g.Wait()
		cancel()
		c.Close()

		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.log.Warn("peerclient.session_ended", "service", c.serviceName, "err", sessErr)
		if !sleepBackoff(ctx, attempt) {
			return ctx.Err()
		}
		attempt++
	}
}

// sleepBackoff waits out the backoff for attempt, returning false if ctx
// is cancelled first.
func sleepBackoff(ctx context.Context, attempt int) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(calculateBackoff(attempt)):
		return true
	}
}

func calculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return baseReconnectDelay
	}
	if attempt > 10 {
		return maxReconnectDelay
	}
	delay := time.Duration(math.Pow(2, float64(attempt))) * baseReconnectDelay
	if delay > maxReconnectDelay {
		delay = maxReconnectDelay
	}
	return delay
}

// handshake sends auth.hello over c.tr and awaits auth.ok/auth.error.
func (c *Client) handshake(ctx context.Context) error {
	c.mu.RLock()
	tr := c.tr
	c.mu.RUnlock()

	traceID := ids.NewULID(time.Time{})
	hello, err := c.buildEnvelope(envelope.HubServiceName, envelope.TopicAuthHello, traceID, nil,
		envelope.AuthHelloPayload{
			Service:      c.serviceName,
			Token:        token.SharedSecret(),
			Capabilities: c.capabilities,
		})
	if err != nil {
		return err
	}

	if err := tr.Send(ctx, hello); err != nil {
		return fmt.Errorf("peerclient: send auth.hello: %w", err)
	}

	authCtx, cancel := context.WithTimeout(ctx, authTimeout)
	defer cancel()

	raw, err := tr.Recv(authCtx)
	if err != nil {
		return fmt.Errorf("peerclient: awaiting auth response: %w", err)
	}

	env, err := envelope.Validate(raw)
	if err != nil {
		return fmt.Errorf("peerclient: invalid auth response: %w", err)
	}

	switch env.Topic {
	case envelope.TopicAuthOK:
		var ok envelope.AuthOKPayload
		if err := json.Unmarshal(env.Payload, &ok); err != nil {
			return fmt.Errorf("peerclient: malformed auth.ok payload: %w", err)
		}
		c.mu.Lock()
		c.sessionToken = ok.SessionToken
		c.authed = true
		c.mu.Unlock()
		c.log.Info("peerclient.authenticated", "service", c.serviceName)
		return nil

	case envelope.TopicAuthError:
		var e envelope.ErrorPayload
		_ = json.Unmarshal(env.Payload, &e)
		return fmt.Errorf("peerclient: authentication rejected: %s: %s", e.Code, e.Message)

	default:
		return fmt.Errorf("peerclient: unexpected first reply topic: %s", env.Topic)
	}
}

// Authenticated reports whether the client has completed the handshake
// and has not yet observed the connection drop.
func (c *Client) Authenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authed
}

// Send addresses a new envelope to toService on topic with payload,
// returning the id assigned to the outgoing envelope.
func (c *Client) Send(ctx context.Context, toService, topic string, payload any) (string, error) {
	traceID := ids.NewULID(time.Time{})
	return c.SendWithTrace(ctx, toService, topic, traceID, nil, payload)
}

// SendWithTrace is Send with an explicit trace id and optional reply_to,
// for services correlating a reply to the request that triggered it.
func (c *Client) SendWithTrace(ctx context.Context, toService, topic, traceID string, replyTo *string, payload any) (string, error) {
	c.mu.RLock()
	tr := c.tr
	authed := c.authed
	c.mu.RUnlock()

	if !authed || tr == nil {
		return "", fmt.Errorf("peerclient: not authenticated")
	}

	raw, id, err := c.buildEnvelopeWithID(toService, topic, traceID, replyTo, payload)
	if err != nil {
		return "", err
	}
	if err := tr.Send(ctx, raw); err != nil {
		return "", fmt.Errorf("peerclient: send: %w", err)
	}
	return id, nil
}

// Broadcast addresses a new envelope to every other connected peer.
func (c *Client) Broadcast(ctx context.Context, topic string, payload any) (string, error) {
	return c.Send(ctx, envelope.DestinationBroadcast, topic, payload)
}

// MessageLoop blocks reading and dispatching inbound envelopes until ctx
// is done or the transport closes. hb.pong frames are swallowed here;
// every other topic is handed to its registered handler, if any.
func (c *Client) MessageLoop(ctx context.Context) error {
	c.mu.RLock()
	tr := c.tr
	c.mu.RUnlock()
	if tr == nil {
		return fmt.Errorf("peerclient: not connected")
	}

	for {
		raw, err := tr.Recv(ctx)
		if err != nil {
			c.mu.Lock()
			c.authed = false
			c.mu.Unlock()
			return err
		}

		env, err := envelope.Validate(raw)
		if err != nil {
			c.log.Warn("peerclient.invalid_envelope", "err", err)
			continue
		}

		if env.Topic == envelope.TopicHBPong {
			continue
		}

		c.handlersMu.RLock()
		h, ok := c.handlers[env.Topic]
		c.handlersMu.RUnlock()

		if !ok {
			c.log.Debug("peerclient.no_handler", "topic", env.Topic)
			continue
		}
		h(env)
	}
}

// Heartbeat blocks sending hb.ping every HeartbeatInterval until ctx is
// done or a send fails.
func (c *Client) Heartbeat(ctx context.Context) error {
	t := time.NewTicker(HeartbeatInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if _, err := c.Send(ctx, envelope.HubServiceName, envelope.TopicHBPing, struct{}{}); err != nil {
				return err
			}
		}
	}
}

// Close closes the underlying transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authed = false
	if c.tr == nil {
		return nil
	}
	return c.tr.Close(transport.CodeNormalClosure, "bye")
}

func (c *Client) buildEnvelope(to, topic, traceID string, replyTo *string, payload any) ([]byte, error) {
	raw, _, err := c.buildEnvelopeWithID(to, topic, traceID, replyTo, payload)
	return raw, err
}

func (c *Client) buildEnvelopeWithID(to, topic, traceID string, replyTo *string, payload any) ([]byte, string, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("peerclient: marshal payload: %w", err)
	}

	now := time.Now().UTC()
	id := ids.NewULID(now)
	env := envelope.Envelope{
		V:       envelope.Version,
		ID:      id,
		TS:      now.Format(time.RFC3339Nano),
		From:    c.serviceName,
		To:      to,
		Topic:   topic,
		ReplyTo: replyTo,
		TraceID: traceID,
		Payload: payloadBytes,
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, "", fmt.Errorf("peerclient: marshal envelope: %w", err)
	}
	return raw, id, nil
}
