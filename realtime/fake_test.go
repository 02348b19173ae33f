package realtime

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

type fakeConn struct {
	frames  chan Frame
	writes  chan Frame
	closed  chan struct{}
	once    sync.Once
	readErr error
	pingErr error
	closes  atomic.Int32
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		frames: make(chan Frame, 16),
		writes: make(chan Frame, 16),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) (Frame, error) {
	if c.readErr != nil {
		return Frame{}, c.readErr
	}
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return Frame{}, ErrConnClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (c *fakeConn) Write(_ context.Context, f Frame) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	c.writes <- f
	return nil
}

func (c *fakeConn) Ping(context.Context) error { return c.pingErr }

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeDialer hands out connections from dial, which sees the 1-based dial
// number and endpoint.
type fakeDialer struct {
	dials     atomic.Int32
	mu        sync.Mutex
	endpoints []string
	dial      func(ctx context.Context, n int, endpoint string) (Conn, error)
}

func (d *fakeDialer) Dial(ctx context.Context, endpoint string, hs Handshake) (Conn, error) {
	n := int(d.dials.Add(1))
	d.mu.Lock()
	d.endpoints = append(d.endpoints, endpoint)
	d.mu.Unlock()
	return d.dial(ctx, n, endpoint)
}

func (d *fakeDialer) dialed() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.endpoints...)
}

var errRefused = errors.New("connection refused")

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

// scheduler records reconnect delays. When run is set the callback fires
// immediately on its own goroutine.
type scheduler struct {
	mu     sync.Mutex
	delays []time.Duration
	run    bool
}

func (s *scheduler) afterFunc(d time.Duration, f func()) Timer {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	if s.run {
		go f()
	}
	return noopTimer{}
}

func (s *scheduler) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}
