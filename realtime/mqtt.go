package realtime

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	mqttProtocolVersion = 4
	mqttDisconnectQuiet = 250 // milliseconds
	mqttDefaultTimeout  = 10 * time.Second
)

// MQTTDialer opens MQTT 3.1.1 sessions, typically over wss://. Reconnects are
// left to the Transport, so the client's own auto-reconnect is disabled.
type MQTTDialer struct {
	TLSConfig *tls.Config
}

var _ Dialer = (*MQTTDialer)(nil)

func (d *MQTTDialer) Dial(ctx context.Context, endpoint string, hs Handshake) (Conn, error) {
	mc := &mqttConn{
		frames: make(chan Frame, DefaultSubscriptionBuffer),
		lost:   make(chan error, 1),
		closed: make(chan struct{}),
	}

	timeout := mqttDefaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}

	opts := mqtt.NewClientOptions().
		AddBroker(endpoint).
		SetClientID(hs.ClientID).
		SetKeepAlive(hs.KeepAlive).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetProtocolVersion(mqttProtocolVersion).
		SetConnectTimeout(timeout).
		SetHTTPHeaders(hs.Header.Clone()).
		SetDefaultPublishHandler(mc.onMessage).
		SetConnectionLostHandler(mc.onLost)
	if d.TLSConfig != nil {
		opts.SetTLSConfig(d.TLSConfig)
	}

	client := mqtt.NewClient(opts)
	if err := waitToken(ctx, client.Connect()); err != nil {
		client.Disconnect(0)
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	for _, topic := range hs.Topics {
		if err := waitToken(ctx, client.Subscribe(topic, 0, nil)); err != nil {
			client.Disconnect(0)
			return nil, fmt.Errorf("mqtt subscribe %q: %w", topic, err)
		}
	}
	mc.client = client
	return mc, nil
}

func waitToken(ctx context.Context, tok mqtt.Token) error {
	select {
	case <-tok.Done():
		return tok.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

type mqttConn struct {
	client mqtt.Client
	frames chan Frame
	lost   chan error
	closed chan struct{}
	once   sync.Once
}

func (m *mqttConn) onMessage(_ mqtt.Client, msg mqtt.Message) {
	f := Frame{Topic: msg.Topic(), Payload: append([]byte(nil), msg.Payload()...)}
	select {
	case m.frames <- f:
	case <-m.closed:
	}
}

func (m *mqttConn) onLost(_ mqtt.Client, err error) {
	if err == nil {
		err = errors.New("mqtt connection lost")
	}
	select {
	case m.lost <- err:
	default:
	}
}

func (m *mqttConn) Read(ctx context.Context) (Frame, error) {
	select {
	case f := <-m.frames:
		return f, nil
	case err := <-m.lost:
		return Frame{}, err
	case <-m.closed:
		return Frame{}, ErrConnClosed
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (m *mqttConn) Write(ctx context.Context, f Frame) error {
	select {
	case <-m.closed:
		return ErrConnClosed
	default:
	}
	return waitToken(ctx, m.client.Publish(f.Topic, 0, false, f.Payload))
}

// Ping reports whether the session is still open. PINGREQ/PINGRESP traffic is
// handled by the client at the configured keepalive.
func (m *mqttConn) Ping(_ context.Context) error {
	if !m.client.IsConnectionOpen() {
		return errors.New("mqtt connection not open")
	}
	return nil
}

func (m *mqttConn) Close() error {
	m.once.Do(func() {
		close(m.closed)
		m.client.Disconnect(mqttDisconnectQuiet)
	})
	return nil
}
