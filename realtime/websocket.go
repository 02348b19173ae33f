package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
)

// defaultReadLimit bounds a single WebSocket message.
const defaultReadLimit = 4 << 20

// WebSocketDialer opens plain WebSocket sockets. Frames carry no topic on the
// wire, so topical frames are wrapped as {"topic":...,"payload":...} in both
// directions.
type WebSocketDialer struct {
	// HTTPClient is used for the upgrade request. nil means http.DefaultClient.
	HTTPClient *http.Client
	// ReadLimit caps inbound message size. Zero means 4 MiB.
	ReadLimit int64
}

var _ Dialer = (*WebSocketDialer)(nil)

func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string, hs Handshake) (Conn, error) {
	c, _, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: hs.Header.Clone(),
	})
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}
	limit := d.ReadLimit
	if limit <= 0 {
		limit = defaultReadLimit
	}
	c.SetReadLimit(limit)
	return &wsConn{c: c}, nil
}

type wsConn struct {
	c *websocket.Conn
}

type wsEnvelope struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
}

func (w *wsConn) Read(ctx context.Context) (Frame, error) {
	_, data, err := w.c.Read(ctx)
	if err != nil {
		return Frame{}, err
	}
	return unwrapFrame(data), nil
}

// unwrapFrame undoes the envelope written by Write. Anything without both a
// topic and a payload is passed through untouched.
func unwrapFrame(data []byte) Frame {
	var env wsEnvelope
	if json.Unmarshal(data, &env) != nil || env.Topic == "" || len(env.Payload) == 0 {
		return Frame{Payload: data}
	}
	var s string
	if json.Unmarshal(env.Payload, &s) == nil {
		return Frame{Topic: env.Topic, Payload: []byte(s)}
	}
	return Frame{Topic: env.Topic, Payload: []byte(env.Payload)}
}

func (w *wsConn) Write(ctx context.Context, f Frame) error {
	if f.Topic == "" {
		return w.c.Write(ctx, websocket.MessageBinary, f.Payload)
	}
	payload := json.RawMessage(f.Payload)
	if !json.Valid(payload) {
		quoted, err := json.Marshal(string(f.Payload))
		if err != nil {
			return err
		}
		payload = quoted
	}
	data, err := json.Marshal(wsEnvelope{Topic: f.Topic, Payload: payload})
	if err != nil {
		return err
	}
	return w.c.Write(ctx, websocket.MessageText, data)
}

func (w *wsConn) Ping(ctx context.Context) error {
	return w.c.Ping(ctx)
}

func (w *wsConn) Close() error {
	err := w.c.Close(websocket.StatusNormalClosure, "")
	if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
		return nil
	}
	return err
}
