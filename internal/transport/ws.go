package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// Subprotocol is the WebSocket subprotocol peers must request.
const Subprotocol = "tasksprite.ipc.v1"

// MaxFrameBytes bounds a single inbound frame; oversized frames are
// refused at the transport layer before they reach the validator.
const MaxFrameBytes = 64 << 10 // 64 KiB

// wsTransport adapts a *websocket.Conn to the Transport interface.
type wsTransport struct {
	conn *websocket.Conn
}

// Accept upgrades an HTTP request to a WebSocket connection and returns it
// as a Transport. The caller is responsible for enforcing the loopback
// bind and request-path policy before calling Accept.
func Accept(w http.ResponseWriter, r *http.Request) (Transport, error) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(MaxFrameBytes)
	return &wsTransport{conn: conn}, nil
}

// Dial connects to a hub endpoint as a client and returns it as a
// Transport, used by the peer client protocol.
func Dial(ctx context.Context, url string) (Transport, error) {
	conn, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{Subprotocol},
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(MaxFrameBytes)
	return &wsTransport{conn: conn}, nil
}

func (t *wsTransport) Recv(ctx context.Context) ([]byte, error) {
	mt, data, err := t.conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func (t *wsTransport) Send(ctx context.Context, data []byte) error {
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close(code int, reason string) error {
	return t.conn.Close(websocket.StatusCode(code), reason)
}

// ReadErrKind classifies a Recv error so callers can decide whether to
// close, retry, or reply with a protocol-level error.
type ReadErrKind uint8

const (
	ReadErrUnknown ReadErrKind = iota
	ReadErrClose
	ReadErrCtxDone
	ReadErrConnClosed
	ReadErrBadJSON
)

// ClassifyReadErr buckets a transport Recv error for dispatch.
func ClassifyReadErr(err error) ReadErrKind {
	if websocket.CloseStatus(err) != -1 {
		return ReadErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return ReadErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return ReadErrConnClosed
	}
	s := err.Error()
	if strings.Contains(s, "use of closed network connection") || strings.Contains(s, "broken pipe") {
		return ReadErrConnClosed
	}
	if strings.Contains(s, "unexpected end of JSON input") ||
		strings.Contains(s, "invalid character") ||
		strings.Contains(s, "failed to unmarshal JSON") {
		return ReadErrBadJSON
	}
	return ReadErrUnknown
}

// CloseStatus returns the close code observed on err, or -1 if err is not
// a WebSocket close error.
func CloseStatus(err error) int {
	return int(websocket.CloseStatus(err))
}

// PingTimeout bounds how long a liveness ping may take before counting as
// a failure.
const PingTimeout = 5 * time.Second
