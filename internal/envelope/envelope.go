// Package envelope defines the wire contract every message traverses the
// hub as, and its pure, side-effect-free validator.
//
// The package is intentionally stable and dependency-light: it is the
// contract shared between the hub and every peer client.
package envelope

import "encoding/json"

// Version is the only protocol version this hub accepts.
const Version = 1

// Hub-local topics the hub acts on directly. All other topics are opaque
// and routed unchanged.
const (
	TopicAuthHello = "auth.hello"
	TopicAuthOK    = "auth.ok"
	TopicAuthError = "auth.error"
	TopicIPCError  = "ipc.error"
	TopicHBPing    = "hb.ping"
	TopicHBPong    = "hb.pong"
)

// DestinationBroadcast is the reserved "to" value that fans a message out
// to every other authenticated session.
const DestinationBroadcast = "broadcast"

// HubServiceName is the "from" used on every hub-originated envelope and
// the "to" used to address hub-local topics.
const HubServiceName = "ipc-hub"

// Envelope is the canonical wire wrapper defined in the data model.
type Envelope struct {
	V        int             `json:"v"`
	ID       string          `json:"id"`
	TS       string          `json:"ts"`
	From     string          `json:"from"`
	To       string          `json:"to"`
	Topic    string          `json:"topic"`
	ReplyTo  *string         `json:"reply_to"`
	TraceID  string          `json:"trace_id"`
	Payload  json.RawMessage `json:"payload"`
}

// AuthHelloPayload is the payload of a peer -> hub auth.hello envelope.
type AuthHelloPayload struct {
	Service      string   `json:"service"`
	Token        string   `json:"token"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// AuthOKPayload is the payload of a hub -> peer auth.ok envelope.
type AuthOKPayload struct {
	Service      string `json:"service"`
	SessionToken string `json:"session_token,omitempty"`
}

// ErrorPayload is the payload of an ipc.error / auth.error envelope.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
