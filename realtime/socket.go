package realtime

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrConnClosed is returned by Conn methods after Close.
var ErrConnClosed = errors.New("realtime connection closed")

// Frame is one message on the socket. Topic is empty on sockets without
// topic framing.
type Frame struct {
	Topic   string
	Payload []byte
}

// Handshake carries the session material presented when opening a socket.
type Handshake struct {
	ClientID  string
	Header    http.Header
	KeepAlive time.Duration
	Topics    []string
}

// Dialer opens a socket to one endpoint. Implementations must honour ctx for
// the whole handshake.
type Dialer interface {
	Dial(ctx context.Context, endpoint string, hs Handshake) (Conn, error)
}

// Conn is an open socket. Read is called from a single goroutine; Write and
// Ping may be called concurrently with it.
type Conn interface {
	Read(ctx context.Context) (Frame, error)
	Write(ctx context.Context, f Frame) error
	Ping(ctx context.Context) error
	Close() error
}
