package realtime

import (
	"log/slog"
	"time"
)

// DefaultEndpoints are the brokers tried, in order, on every connect attempt.
var DefaultEndpoints = []string{
	"wss://edge-mqtt.facebook.com:443/mqtt",
	"wss://edge-mqtt.instagram.com:443/mqtt",
}

// Config controls endpoint selection, heartbeat and reconnect pacing.
type Config struct {
	Endpoints      []string
	ConnectTimeout time.Duration
	KeepAlive      time.Duration
	// ReconnectBase and ReconnectMax shape the reconnect delay
	// min(ReconnectMax, ReconnectBase * 2^min(retries, MaxBackoffExponent)).
	ReconnectBase      time.Duration
	ReconnectMax       time.Duration
	MaxBackoffExponent int
	// MaxReconnectAttempts stops automatic reconnects after that many
	// consecutive failures. Zero means retry forever.
	MaxReconnectAttempts int
	Origin               string
	Topics               []string
}

// DefaultConfig returns the settings of the official client.
func DefaultConfig() Config {
	return Config{
		Endpoints:          append([]string(nil), DefaultEndpoints...),
		ConnectTimeout:     12 * time.Second,
		KeepAlive:          30 * time.Second,
		ReconnectBase:      time.Second,
		ReconnectMax:       30 * time.Second,
		MaxBackoffExponent: 6,
		Origin:             "https://www.instagram.com",
		Topics:             []string{"#"},
	}
}

// Timer is the handle returned by an AfterFunc.
type Timer interface {
	Stop() bool
}

// Option configures a Transport.
type Option func(*Transport)

// WithConfig replaces the default configuration.
func WithConfig(cfg Config) Option {
	return func(t *Transport) {
		t.cfg = cfg
	}
}

// WithLogger sets the structured logger for the transport.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithBus publishes events on bus instead of a private one.
func WithBus(bus *Bus) Option {
	return func(t *Transport) {
		t.bus = bus
	}
}

// WithAfterFunc replaces time.AfterFunc for reconnect scheduling.
func WithAfterFunc(fn func(time.Duration, func()) Timer) Option {
	return func(t *Transport) {
		t.afterFunc = fn
	}
}
