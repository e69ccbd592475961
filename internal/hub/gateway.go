package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"ipchub/internal/envelope"
	"ipchub/internal/hub/audit"
	"ipchub/internal/ids"
	"ipchub/internal/ipcerr"
	"ipchub/internal/token"
	"ipchub/internal/transport"
)

const gatewayOp = "hub.Gateway"

// Gateway bridges inbound WebSocket connections into session lifecycle:
// accept, authenticate within a deadline, then hand validated envelopes
// to the router until the connection closes (spec §4.3, §4.4).
type Gateway struct {
	log     *slog.Logger
	reg     *registry
	router  *router
	metrics *metrics
	audit   audit.Store
	cfg     Config
}

// NewGateway constructs a Gateway wired to the given hub components.
func NewGateway(log *slog.Logger, reg *registry, rt *router, m *metrics, a audit.Store, cfg Config) *Gateway {
	return &Gateway{log: log, reg: reg, router: rt, metrics: m, audit: a, cfg: cfg}
}

// HandleWS is the http.HandlerFunc for the /ws endpoint.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	tr, err := transport.Accept(w, r)
	if err != nil {
		g.log.Error("hub.gateway.accept_fail", "err", err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := newSession(tr, g.cfg.SendQueueSize)

	g.auditRecord(ctx, audit.EventConnected, "", "")

	name, ok := g.authenticate(ctx, sess)
	if !ok {
		_ = tr.Close(transport.CodePolicyViolation, "authentication failed")
		cancel()
		return
	}
	sess.setName(name)
	sess.setState(stateAuthenticated)
	g.metrics.setSessionsActive(g.reg.count())

	writerDone := make(chan struct{})
	var closeOnce sync.Once
	shutdown := func(code int, reason string) {
		closeOnce.Do(func() {
			sess.Close()
			g.reg.drop(name, sess)
			g.metrics.setSessionsActive(g.reg.count())
			_ = tr.Close(code, reason)
			cancel()
		})
	}

	go g.writeLoop(ctx, sess, writerDone)

	g.readLoop(ctx, sess, shutdown)

	shutdown(transport.CodeNormalClosure, "bye")
	<-writerDone

	g.auditRecord(context.Background(), audit.EventDisconnected, name, "")
}

// authenticate runs the awaiting_auth phase: it blocks for at most
// AuthTimeout waiting for a well-formed auth.hello, then replies with
// auth.ok or auth.error and reports the outcome. If no frame arrives
// before the deadline it returns without sending any reply.
func (g *Gateway) authenticate(ctx context.Context, sess *session) (string, bool) {
	authCtx, cancel := context.WithTimeout(ctx, g.cfg.AuthTimeout)
	defer cancel()

	raw, err := sess.transport.Recv(authCtx)
	if err != nil {
		g.metrics.incAuthAttempt("timeout")
		return "", false
	}

	env, err := envelope.Validate(raw)
	if err != nil {
		g.sendAuthError(ctx, sess, "", "", err)
		g.metrics.incAuthAttempt("invalid")
		return "", false
	}

	if env.Topic != envelope.TopicAuthHello {
		g.sendAuthError(ctx, sess, env.ID, env.TraceID, ipcerr.New(gatewayOp, ipcerr.AuthRequired, "first message must be auth.hello"))
		g.metrics.incAuthAttempt("invalid")
		return "", false
	}

	var hello envelope.AuthHelloPayload
	if jerr := json.Unmarshal(env.Payload, &hello); jerr != nil || strings.TrimSpace(hello.Service) == "" {
		g.sendAuthError(ctx, sess, env.ID, env.TraceID, ipcerr.New(gatewayOp, ipcerr.InvalidField, "payload.service is required"))
		g.metrics.incAuthAttempt("invalid")
		return "", false
	}

	if !token.ValidSharedSecret(hello.Token) {
		g.sendAuthError(ctx, sess, env.ID, env.TraceID, ipcerr.New(gatewayOp, ipcerr.AuthInvalid, "invalid token"))
		g.metrics.incAuthAttempt("invalid")
		g.auditRecord(ctx, audit.EventAuthFailed, hello.Service, "bad token")
		return "", false
	}

	if !g.reg.register(hello.Service, sess) {
		g.sendAuthError(ctx, sess, env.ID, env.TraceID, ipcerr.New(gatewayOp, ipcerr.DuplicateService, "service already connected: "+hello.Service))
		g.metrics.incAuthAttempt("duplicate")
		g.auditRecord(ctx, audit.EventAuthFailed, hello.Service, "duplicate service")
		return "", false
	}

	now := time.Now().UTC()
	okPayload, _ := json.Marshal(envelope.AuthOKPayload{
		Service:      hello.Service,
		SessionToken: token.NewSessionToken(hello.Service, now),
	})
	helloID := env.ID
	ok := envelope.Envelope{
		V:       envelope.Version,
		ID:      ids.NewULID(now),
		TS:      now.Format(time.RFC3339Nano),
		From:    envelope.HubServiceName,
		To:      hello.Service,
		Topic:   envelope.TopicAuthOK,
		ReplyTo: &helloID,
		TraceID: env.TraceID,
		Payload: okPayload,
	}
	b, _ := json.Marshal(ok)
	if sendErr := sess.transport.Send(ctx, b); sendErr != nil {
		g.reg.drop(hello.Service, sess)
		g.metrics.incAuthAttempt("invalid")
		return "", false
	}

	sess.touch(now)
	g.metrics.incAuthAttempt("ok")
	g.auditRecord(ctx, audit.EventAuthOK, hello.Service, "")
	return hello.Service, true
}

func (g *Gateway) sendAuthError(ctx context.Context, sess *session, replyToID, traceID string, err error) {
	code, ok := ipcerr.CodeOf(err)
	if !ok {
		code = ipcerr.InvalidField
	}
	payload, _ := json.Marshal(envelope.ErrorPayload{Code: string(code), Message: err.Error()})
	now := time.Now().UTC()
	var replyTo *string
	if replyToID != "" {
		replyTo = &replyToID
	}
	if traceID == "" {
		traceID = ids.NewULID(now)
	}
	env := envelope.Envelope{
		V:       envelope.Version,
		ID:      ids.NewULID(now),
		TS:      now.Format(time.RFC3339Nano),
		From:    envelope.HubServiceName,
		To:      "unknown",
		Topic:   envelope.TopicAuthError,
		ReplyTo: replyTo,
		TraceID: traceID,
		Payload: payload,
	}
	b, _ := json.Marshal(env)
	_ = sess.transport.Send(ctx, b)
}

// writeLoop is the single writer goroutine for sess's transport: once the
// session is authenticated it is the only goroutine calling
// sess.transport.Send (authenticate sends auth.ok/auth.error directly).
func (g *Gateway) writeLoop(ctx context.Context, sess *session, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-sess.Send:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := sess.transport.Send(writeCtx, frame)
			cancel()
			if err != nil {
				g.log.Info("hub.gateway.write_fail", "service", sess.Name(), "err", err)
				return
			}
		}
	}
}

// readLoop is the authenticated-phase read loop: it validates each
// inbound frame and hands it to the router until the connection closes.
func (g *Gateway) readLoop(ctx context.Context, sess *session, shutdown func(code int, reason string)) {
	limiter := newRateLimiter()

	for {
		raw, err := sess.transport.Recv(ctx)
		if err != nil {
			switch transport.ClassifyReadErr(err) {
			case transport.ReadErrClose:
				shutdown(transport.CodeNormalClosure, "peer closed")
			case transport.ReadErrCtxDone:
				shutdown(transport.CodeNormalClosure, "context done")
			default:
				shutdown(transport.CodeAbnormalClosure, "read failed")
			}
			return
		}

		now := time.Now()
		sess.touch(now)

		if !limiter.Allow(now) {
			g.router.sendError(sess, "", "", ipcerr.RateLimited, "rate limit exceeded")
			shutdown(transport.CodePolicyViolation, "rate limited")
			return
		}

		env, verr := envelope.Validate(raw)
		if verr != nil {
			code, _ := ipcerr.CodeOf(verr)
			g.metrics.incValidationError(code)
			g.router.sendError(sess, "", "", code, verr.Error())
			continue
		}

		g.router.Route(sess, env, raw)
	}
}

func (g *Gateway) auditRecord(ctx context.Context, kind audit.EventKind, service, detail string) {
	if g.audit == nil {
		return
	}
	_ = g.audit.Record(ctx, audit.Event{Kind: kind, Service: service, Detail: detail, At: time.Now().UTC()})
}
