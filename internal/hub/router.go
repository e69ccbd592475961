package hub

import (
	"encoding/json"
	"log/slog"
	"time"

	"ipchub/internal/envelope"
	"ipchub/internal/hub/audit"
	"ipchub/internal/ids"
	"ipchub/internal/ipcerr"
)

const routerOp = "hub.Router"

// router dispatches a validated, authenticated envelope from sess to its
// destination: hb.ping is answered in place, "broadcast" fans out to
// every other session, and anything else is unicast to the named peer.
//
// router never re-marshals a forwarded envelope: raw is the exact bytes
// the sender transmitted, and those bytes (not a re-encoded struct) are
// what reaches the destination's Send queue, preserving byte-identical
// forwarding.
type router struct {
	log     *slog.Logger
	reg     *registry
	metrics *metrics
	audit   audit.Store
}

func newRouter(log *slog.Logger, reg *registry, m *metrics, a audit.Store) *router {
	return &router{log: log, reg: reg, metrics: m, audit: a}
}

// Route dispatches one already-validated envelope on behalf of sess.
func (r *router) Route(sess *session, env envelope.Envelope, raw []byte) {
	switch env.Topic {
	case envelope.TopicHBPing:
		r.handlePing(sess, env)
		return
	case envelope.TopicHBPong:
		// Peers may send unsolicited pongs; the session's lastSeen touch
		// (done by the caller on every inbound frame) is all that matters.
		return
	}

	if env.To == envelope.DestinationBroadcast {
		r.broadcast(sess, raw)
		return
	}

	r.unicast(sess, env, raw)
}

func (r *router) handlePing(sess *session, env envelope.Envelope) {
	pong := r.buildHubEnvelope(envelope.TopicHBPong, sess.Name(), env.TraceID, env.ID, json.RawMessage(`{}`))
	r.deliverLocal(sess, pong)
	r.metrics.incRouted("heartbeat")
}

func (r *router) broadcast(sender *session, raw []byte) {
	delivered := 0
	for name, sess := range r.reg.snapshot() {
		if sess == sender || name == sender.Name() {
			continue
		}
		if sess.enqueue(raw) {
			delivered++
		} else {
			r.metrics.incBackpressureDrop()
		}
	}
	r.metrics.incRouted("broadcast")
	r.log.Debug("hub.route.broadcast", "from", sender.Name(), "delivered", delivered)
}

func (r *router) unicast(sender *session, env envelope.Envelope, raw []byte) {
	dest, ok := r.reg.lookup(env.To)
	if !ok {
		r.metrics.incValidationError(ipcerr.UnknownDestination)
		r.sendError(sender, env.TraceID, env.ID, ipcerr.UnknownDestination,
			"no session registered for destination: "+env.To)
		return
	}

	if !dest.enqueue(raw) {
		r.metrics.incBackpressureDrop()
		r.sendError(sender, env.TraceID, env.ID, ipcerr.Backpressure,
			"destination send queue saturated, message dropped")
		return
	}

	r.metrics.incRouted("unicast")
	r.log.Debug("hub.route.unicast", "from", sender.Name(), "to", env.To)
}

// sendError delivers a hub-originated ipc.error envelope to sess,
// correlated to replyToID when the triggering message's id is known.
func (r *router) sendError(sess *session, traceID, replyToID string, code ipcerr.Code, message string) {
	payload, _ := json.Marshal(envelope.ErrorPayload{Code: string(code), Message: message})
	env := r.buildHubEnvelope(envelope.TopicIPCError, sess.Name(), traceID, replyToID, payload)
	r.deliverLocal(sess, env)
}

// buildHubEnvelope constructs a hub-originated envelope addressed to to,
// with a fresh id/ts, the preserved traceID (a fresh ULID when traceID is
// empty, since the envelope contract requires a non-empty trace_id), and
// reply_to set to replyToID (empty means no correlated message).
func (r *router) buildHubEnvelope(topic, to, traceID, replyToID string, payload json.RawMessage) envelope.Envelope {
	now := time.Now().UTC()
	if traceID == "" {
		traceID = ids.NewULID(now)
	}
	var replyTo *string
	if replyToID != "" {
		replyTo = &replyToID
	}
	return envelope.Envelope{
		V:       envelope.Version,
		ID:      ids.NewULID(now),
		TS:      now.Format(time.RFC3339Nano),
		From:    envelope.HubServiceName,
		To:      to,
		Topic:   topic,
		ReplyTo: replyTo,
		TraceID: traceID,
		Payload: payload,
	}
}

// deliverLocal marshals and enqueues a hub-originated envelope onto
// sess's own send queue (used for direct replies: pong, error).
func (r *router) deliverLocal(sess *session, env envelope.Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		r.log.Error("hub.route.marshal_fail", "err", err, "topic", env.Topic)
		return
	}
	if !sess.enqueue(b) {
		r.metrics.incBackpressureDrop()
	}
}
