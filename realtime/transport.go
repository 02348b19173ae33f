// Package realtime keeps a push socket open for a logged-in session. A
// Transport owns at most one socket, reconnects with capped exponential
// backoff after unrequested drops, and reports everything that happens as
// events on a Bus. Nothing inside the transport panics or returns errors out
// of its loops; faults become ErrorEvent and Disconnected events.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jmcleod/ironwire/internal/backoff"
	"github.com/jmcleod/ironwire/state"
)

var (
	// ErrNotConnected is returned by outbound operations unless the transport
	// is connected.
	ErrNotConnected = errors.New("realtime not connected")
	// ErrAllEndpointsFailed is returned when no endpoint completed a handshake.
	ErrAllEndpointsFailed = errors.New("all realtime endpoints failed")
	// ErrConnectAborted is returned by a Connect that was overtaken by
	// Disconnect.
	ErrConnectAborted = errors.New("realtime connect aborted by disconnect")
	// ErrNoEndpoints is returned when the configuration lists no endpoints.
	ErrNoEndpoints = errors.New("no realtime endpoints configured")
	// ErrReconnectExhausted is published when MaxReconnectAttempts is reached.
	ErrReconnectExhausted = errors.New("realtime reconnect attempts exhausted")
)

// Transport is the reconnecting push socket of one session.
type Transport struct {
	st        *state.State
	dialer    Dialer
	cfg       Config
	bus       *Bus
	logger    *slog.Logger
	afterFunc func(time.Duration, func()) Timer

	group singleflight.Group

	mu       sync.Mutex
	state    ConnState
	conn     Conn
	connID   uint64
	gen      uint64
	endpoint string
	retries  int
	manual   bool
	timer    Timer
	cancel   context.CancelFunc
	// dialCancel aborts the in-flight connect attempt.
	dialCancel context.CancelFunc

	connects      uint64
	drops         uint64
	gaveUp        bool
	lastConnected time.Time

	lastSeen atomic.Int64
}

// New returns an idle Transport that dials through dialer.
func New(st *state.State, dialer Dialer, opts ...Option) *Transport {
	t := &Transport{
		st:     st,
		dialer: dialer,
		cfg:    DefaultConfig(),
		state:  StateIdle,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.bus == nil {
		t.bus = NewBus()
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "realtime")
	return t
}

// Bus returns the bus events are published on.
func (t *Transport) Bus() *Bus { return t.bus }

// State returns the current lifecycle state.
func (t *Transport) State() ConnState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsConnected reports whether the transport is connected.
func (t *Transport) IsConnected() bool {
	return t.State() == StateConnected
}

// Endpoint returns the endpoint of the current connection, if any.
func (t *Transport) Endpoint() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endpoint
}

// Retries returns the number of reconnects scheduled since the last
// successful connect.
func (t *Transport) Retries() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.retries
}

// Stats is a point-in-time view of the transport.
type Stats struct {
	State                ConnState
	Endpoint             string
	ReconnectAttempts    int
	MaxReconnectAttempts int
	GaveUp               bool
	Connects             uint64
	Drops                uint64
	DroppedEvents        uint64
	LastConnected        time.Time
}

// Stats returns connection counters and the reconnect budget.
func (t *Transport) Stats() Stats {
	t.mu.Lock()
	st := Stats{
		State:                t.state,
		Endpoint:             t.endpoint,
		ReconnectAttempts:    t.retries,
		MaxReconnectAttempts: t.cfg.MaxReconnectAttempts,
		GaveUp:               t.gaveUp,
		Connects:             t.connects,
		Drops:                t.drops,
		LastConnected:        t.lastConnected,
	}
	t.mu.Unlock()
	st.DroppedEvents = t.bus.Dropped()
	return st
}

// Connect opens the socket. It returns immediately when already connected;
// concurrent callers share a single handshake. An explicit Connect re-enables
// automatic reconnects after a previous Disconnect.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	t.manual = false
	if t.state == StateConnected {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	return t.connectShared(ctx)
}

func (t *Transport) connectShared(ctx context.Context) error {
	_, err, _ := t.group.Do("connect", func() (any, error) {
		return nil, t.connect(ctx)
	})
	return err
}

func (t *Transport) connect(ctx context.Context) error {
	t.mu.Lock()
	if t.state == StateConnected {
		t.mu.Unlock()
		return nil
	}
	if t.manual {
		t.mu.Unlock()
		return ErrConnectAborted
	}
	if len(t.cfg.Endpoints) == 0 {
		t.mu.Unlock()
		return ErrNoEndpoints
	}
	t.state = StateConnecting
	gen := t.gen
	attemptCtx, cancelAttempt := context.WithCancel(ctx)
	t.dialCancel = cancelAttempt
	endpoints := append([]string(nil), t.cfg.Endpoints...)
	t.mu.Unlock()

	defer func() {
		cancelAttempt()
		t.mu.Lock()
		t.dialCancel = nil
		t.mu.Unlock()
	}()

	hs := t.handshake()
	var errs []error
	for _, ep := range endpoints {
		if t.superseded(gen) {
			return ErrConnectAborted
		}
		dialCtx, cancel := context.WithTimeout(attemptCtx, t.cfg.ConnectTimeout)
		conn, err := t.dialer.Dial(dialCtx, ep, hs)
		cancel()
		if err == nil {
			return t.adopt(gen, ep, conn)
		}
		if t.superseded(gen) {
			return ErrConnectAborted
		}
		t.logger.Warn("realtime endpoint failed", "endpoint", ep, "error", err)
		errs = append(errs, fmt.Errorf("%s: %w", ep, err))
		if ctx.Err() != nil {
			break
		}
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return ErrConnectAborted
	}
	t.state = StateDisconnected
	t.mu.Unlock()
	err := fmt.Errorf("%w: %w", ErrAllEndpointsFailed, errors.Join(errs...))
	t.bus.Publish(ErrorEvent{Cause: err, At: time.Now()})
	return err
}

// superseded reports whether a Disconnect happened after the attempt tagged
// gen started.
func (t *Transport) superseded(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen != gen
}

// adopt installs conn as the active socket unless a Disconnect happened
// while it was being dialed.
func (t *Transport) adopt(gen uint64, endpoint string, conn Conn) error {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		_ = conn.Close()
		return ErrConnectAborted
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.gen++
	id := t.gen
	loopCtx, cancel := context.WithCancel(context.Background())
	t.state = StateConnected
	t.conn = conn
	t.connID = id
	t.endpoint = endpoint
	t.retries = 0
	t.gaveUp = false
	t.connects++
	t.lastConnected = time.Now()
	t.cancel = cancel
	t.lastSeen.Store(time.Now().UnixNano())
	t.mu.Unlock()

	t.logger.Info("realtime connected", "endpoint", endpoint)
	t.bus.Publish(Connected{Endpoint: endpoint, At: time.Now()})

	go t.readLoop(loopCtx, id, conn)
	go t.heartbeat(loopCtx, id, conn)
	return nil
}

func (t *Transport) handshake() Handshake {
	h := make(http.Header)
	h.Set("User-Agent", t.st.UserAgent())
	if cookie := t.st.Jar().Header(t.st.Constants().Host); cookie != "" {
		h.Set("Cookie", cookie)
	}
	if t.cfg.Origin != "" {
		h.Set("Origin", t.cfg.Origin)
	}
	return Handshake{
		ClientID:  "ig_" + t.st.Device().UUID,
		Header:    h,
		KeepAlive: t.cfg.KeepAlive,
		Topics:    append([]string(nil), t.cfg.Topics...),
	}
}

func (t *Transport) readLoop(ctx context.Context, id uint64, conn Conn) {
	for {
		f, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			t.drop(id, "read failed", err)
			return
		}
		t.lastSeen.Store(time.Now().UnixNano())
		t.dispatch(f)
	}
}

// heartbeat pings every KeepAlive and declares the connection dead after two
// keepalive intervals without a frame or a successful ping.
func (t *Transport) heartbeat(ctx context.Context, id uint64, conn Conn) {
	interval := t.cfg.KeepAlive
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pingCtx, cancel := context.WithTimeout(ctx, interval)
		err := conn.Ping(pingCtx)
		cancel()
		if err == nil {
			t.lastSeen.Store(time.Now().UnixNano())
		} else if ctx.Err() == nil {
			t.logger.Debug("realtime ping failed", "error", err)
		}
		idle := time.Since(time.Unix(0, t.lastSeen.Load()))
		if idle >= 2*interval {
			t.drop(id, "heartbeat timeout", fmt.Errorf("no traffic for %s", idle.Round(time.Millisecond)))
			return
		}
	}
}

func (t *Transport) dispatch(f Frame) {
	payload, decoded := decodeFrame(f.Payload)
	topic := f.Topic
	if topic == "" {
		topic = frameTopic(decoded)
	}
	now := time.Now()
	if kind, ok := knownTopics[topic]; ok {
		msg := Message{Topic: topic, Kind: kind, Raw: f.Payload, Payload: payload, Decoded: decoded, At: now}
		if kind == KindMessageSync {
			msg.Sync = parseMessageSync(decoded)
		}
		t.bus.Publish(msg)
		return
	}
	t.bus.Publish(UnknownMessage{Topic: topic, Raw: f.Payload, Payload: payload, Decoded: decoded, At: now})
}

// drop tears down connection id after an unrequested failure and schedules a
// reconnect. Stale ids are ignored; a requested Disconnect has already
// cleared connID, so it never reaches the scheduler.
func (t *Transport) drop(id uint64, reason string, cause error) {
	t.mu.Lock()
	if t.connID != id || t.state != StateConnected {
		t.mu.Unlock()
		return
	}
	conn := t.conn
	cancel := t.cancel
	t.conn = nil
	t.cancel = nil
	t.connID = 0
	t.state = StateDisconnected
	t.gen++
	t.drops++
	delay, scheduled := t.scheduleLocked()
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	now := time.Now()
	t.bus.Publish(ErrorEvent{Cause: cause, At: now})
	t.bus.Publish(Disconnected{Reason: reason, Err: cause, At: now})
	if !scheduled {
		t.giveUp()
		return
	}
	t.logger.Warn("realtime dropped, reconnect scheduled", "reason", reason, "error", cause, "delay", delay)
}

func (t *Transport) giveUp() {
	t.logger.Error("realtime reconnect attempts exhausted", "max_attempts", t.cfg.MaxReconnectAttempts)
	t.bus.Publish(ErrorEvent{Cause: ErrReconnectExhausted, At: time.Now()})
}

// scheduleLocked arms the reconnect timer and returns its delay. It reports
// false, arming nothing, once MaxReconnectAttempts reconnects have been
// scheduled without a successful connect. t.mu must be held.
func (t *Transport) scheduleLocked() (time.Duration, bool) {
	if limit := t.cfg.MaxReconnectAttempts; limit > 0 && t.retries >= limit {
		t.gaveUp = true
		return 0, false
	}
	delay := backoff.Bounded(t.cfg.ReconnectBase, t.cfg.ReconnectMax, t.retries, t.cfg.MaxBackoffExponent)
	t.retries++
	if t.timer != nil {
		t.timer.Stop()
	}
	t.timer = t.afterFunc(delay, t.reconnect)
	return delay, true
}

func (t *Transport) reconnect() {
	t.mu.Lock()
	t.timer = nil
	if t.manual || t.state == StateConnected || t.state == StateConnecting {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	err := t.connectShared(context.Background())
	if err == nil {
		return
	}

	t.mu.Lock()
	if t.manual || t.state == StateConnected || t.timer != nil {
		t.mu.Unlock()
		return
	}
	delay, scheduled := t.scheduleLocked()
	attempt := t.retries
	t.mu.Unlock()
	if !scheduled {
		t.giveUp()
		return
	}
	t.logger.Warn("realtime reconnect failed", "error", err, "attempt", attempt, "delay", delay)
}

// Disconnect closes the socket and disables automatic reconnects. It is safe
// to call from any state, including mid-connect, and always leaves the
// transport Disconnected. Socket close errors are logged, not returned.
func (t *Transport) Disconnect(_ context.Context) error {
	t.mu.Lock()
	t.manual = true
	t.gen++
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	conn := t.conn
	cancel := t.cancel
	dialCancel := t.dialCancel
	prev := t.state
	t.conn = nil
	t.cancel = nil
	t.dialCancel = nil
	t.connID = 0
	t.endpoint = ""
	t.state = StateDisconnected
	t.mu.Unlock()

	if dialCancel != nil {
		dialCancel()
	}
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		if err := conn.Close(); err != nil {
			t.logger.Warn("realtime close failed", "error", err)
		}
	}
	if prev == StateConnected || prev == StateConnecting {
		t.logger.Info("realtime disconnected", "reason", "requested")
		t.bus.Publish(Disconnected{Reason: "disconnect requested", At: time.Now()})
	}
	return nil
}

// Send publishes payload on topic.
func (t *Transport) Send(ctx context.Context, topic string, payload []byte) error {
	t.mu.Lock()
	if t.state != StateConnected || t.conn == nil {
		t.mu.Unlock()
		return ErrNotConnected
	}
	conn := t.conn
	t.mu.Unlock()
	if err := conn.Write(ctx, Frame{Topic: topic, Payload: payload}); err != nil {
		return fmt.Errorf("realtime send: %w", err)
	}
	return nil
}

type directMessage struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
	Text     string `json:"text"`
	TS       int64  `json:"ts"`
}

// SendDirectMessage pushes a text message to a thread over the socket.
func (t *Transport) SendDirectMessage(ctx context.Context, threadID, text string) error {
	if !t.IsConnected() {
		return ErrNotConnected
	}
	payload, err := json.Marshal(directMessage{
		Type:     "direct_message",
		ThreadID: threadID,
		Text:     text,
		TS:       time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return t.Send(ctx, TopicSendDirect, payload)
}
