package client

import (
	"log/slog"

	"github.com/jmcleod/ironwire/persist"
	"github.com/jmcleod/ironwire/realtime"
	"github.com/jmcleod/ironwire/state"
	"github.com/jmcleod/ironwire/transport"
)

// Option configures a Client.
type Option func(*Client)

// WithState uses st instead of a freshly generated state.
func WithState(st *state.State) Option {
	return func(c *Client) { c.st = st }
}

// WithStateOptions configures the state created by New. Ignored with WithState.
func WithStateOptions(opts ...state.Option) Option {
	return func(c *Client) { c.stateOpts = append(c.stateOpts, opts...) }
}

// WithTransportOptions configures the HTTP transport.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(c *Client) { c.transportOpts = append(c.transportOpts, opts...) }
}

// WithDialer sets the realtime socket dialer. The default speaks MQTT over
// WebSocket.
func WithDialer(d realtime.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithRealtimeOptions configures the realtime transport.
func WithRealtimeOptions(opts ...realtime.Option) Option {
	return func(c *Client) { c.realtimeOpts = append(c.realtimeOpts, opts...) }
}

// WithStore enables SaveSession and LoadSession.
func WithStore(store *persist.Store) Option {
	return func(c *Client) { c.store = store }
}

// WithRealtimeOnLogin controls whether a successful login starts the realtime
// transport in the background. Enabled by default.
func WithRealtimeOnLogin(enabled bool) Option {
	return func(c *Client) { c.realtimeOnLogin = enabled }
}

// WithLogger sets the logger handed to every component.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}
