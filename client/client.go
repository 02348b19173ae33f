// Package client ties one session together: its state, the signed HTTP
// transport, the login flow, the realtime transport and optional persistence.
//
// A Client owns exactly one state.State. Run independent Clients for
// concurrent sessions.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jmcleod/ironwire/account"
	"github.com/jmcleod/ironwire/crypto"
	"github.com/jmcleod/ironwire/persist"
	"github.com/jmcleod/ironwire/realtime"
	"github.com/jmcleod/ironwire/state"
	"github.com/jmcleod/ironwire/transport"
)

var (
	// ErrNoStore is returned by session persistence calls on a Client built
	// without WithStore.
	ErrNoStore = errors.New("client has no session store")
	// ErrClosed is returned by ConnectRealtime on a closed Client.
	ErrClosed = errors.New("client closed")
)

// Client is the facade over one logical session.
type Client struct {
	st       *state.State
	http     *transport.Client
	account  *account.Service
	realtime *realtime.Transport
	store    *persist.Store
	logger   *slog.Logger

	stateOpts       []state.Option
	transportOpts   []transport.Option
	realtimeOpts    []realtime.Option
	dialer          realtime.Dialer
	realtimeOnLogin bool

	bgMu      sync.Mutex
	bg        sync.WaitGroup
	closed    bool
	closeOnce sync.Once
}

// New builds a Client and all of its components.
func New(opts ...Option) (*Client, error) {
	c := &Client{realtimeOnLogin: true}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.st == nil {
		c.st = state.New(append([]state.Option{state.WithLogger(c.logger)}, c.stateOpts...)...)
	}
	if c.dialer == nil {
		c.dialer = &realtime.MQTTDialer{}
	}

	httpClient, err := transport.New(c.st, append([]transport.Option{transport.WithLogger(c.logger)}, c.transportOpts...)...)
	if err != nil {
		return nil, fmt.Errorf("creating transport: %w", err)
	}
	c.http = httpClient
	c.account = account.New(httpClient, account.WithLogger(c.logger))
	c.realtime = realtime.New(c.st, c.dialer, append([]realtime.Option{realtime.WithLogger(c.logger)}, c.realtimeOpts...)...)
	c.logger = c.logger.With("component", "client")
	return c, nil
}

// State returns the session state.
func (c *Client) State() *state.State { return c.st }

// HTTP returns the signed HTTP transport.
func (c *Client) HTTP() *transport.Client { return c.http }

// Account returns the login flow service.
func (c *Client) Account() *account.Service { return c.account }

// Realtime returns the realtime transport.
func (c *Client) Realtime() *realtime.Transport { return c.realtime }

// Events returns the bus realtime events are published on.
func (c *Client) Events() *realtime.Bus { return c.realtime.Bus() }

// Login authenticates over HTTP. When realtime-on-login is enabled the
// realtime transport is started in the background; its failure is logged and
// published as an event but never fails the login.
func (c *Client) Login(ctx context.Context, username string, password []byte) (*account.LoggedInUser, error) {
	user, err := c.account.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	c.startRealtime(ctx)
	return user, nil
}

// TwoFactorLogin completes a login that was interrupted by a two-factor
// challenge.
func (c *Client) TwoFactorLogin(ctx context.Context, username, code, identifier string, method account.VerificationMethod) (*account.LoggedInUser, error) {
	user, err := c.account.TwoFactorLogin(ctx, username, code, identifier, method)
	if err != nil {
		return nil, err
	}
	c.startRealtime(ctx)
	return user, nil
}

func (c *Client) startRealtime(ctx context.Context) {
	if !c.realtimeOnLogin {
		return
	}
	c.bgMu.Lock()
	defer c.bgMu.Unlock()
	if c.closed {
		c.logger.Debug("client closed, not starting realtime")
		return
	}
	ctx = context.WithoutCancel(ctx)
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		if err := c.realtime.Connect(ctx); err != nil {
			if errors.Is(err, realtime.ErrConnectAborted) {
				return
			}
			c.logger.Warn("realtime connect after login failed", "error", err)
		}
	}()
}

// Logout disconnects realtime, ends the server session and drops local
// cookies and cached responses.
func (c *Client) Logout(ctx context.Context) error {
	_ = c.realtime.Disconnect(ctx)
	err := c.account.Logout(ctx)
	c.st.ClearCookies()
	if cache := c.http.Cache(); cache != nil {
		if perr := cache.Purge(ctx); perr != nil {
			c.logger.Warn("purging response cache", "error", perr)
		}
	}
	return err
}

// CurrentUser fetches the logged-in profile.
func (c *Client) CurrentUser(ctx context.Context) (*account.CurrentUser, error) {
	return c.account.CurrentUser(ctx)
}

// IsSessionValid reports whether the session is still accepted upstream. It
// only contacts the server when the local state looks logged in. Errors that
// mean "logged out" yield false with a nil error.
func (c *Client) IsSessionValid(ctx context.Context) (bool, error) {
	if !c.st.HasValidSession() {
		return false, nil
	}
	_, err := c.account.CurrentUser(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, transport.ErrLoginRequired),
		errors.Is(err, transport.ErrSessionExpired),
		errors.Is(err, transport.ErrCheckpoint):
		return false, nil
	default:
		return false, err
	}
}

// ConnectRealtime starts the realtime transport and waits for the handshake.
func (c *Client) ConnectRealtime(ctx context.Context) error {
	c.bgMu.Lock()
	closed := c.closed
	c.bgMu.Unlock()
	if closed {
		return ErrClosed
	}
	return c.realtime.Connect(ctx)
}

// DisconnectRealtime stops the realtime transport.
func (c *Client) DisconnectRealtime(ctx context.Context) error {
	return c.realtime.Disconnect(ctx)
}

// SendDirectMessage publishes a direct message over realtime.
func (c *Client) SendDirectMessage(ctx context.Context, threadID, text string) error {
	return c.realtime.SendDirectMessage(ctx, threadID, text)
}

// sessionID defaults to the logged-in username.
func (c *Client) sessionID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	name, err := c.st.Username()
	if err != nil {
		return "", fmt.Errorf("no session id given and no user logged in: %w", err)
	}
	return name, nil
}

// SaveSession persists the state under id, or under the username when id is
// empty. It returns the revision written.
func (c *Client) SaveSession(ctx context.Context, id string) (uint64, error) {
	if c.store == nil {
		return 0, ErrNoStore
	}
	id, err := c.sessionID(id)
	if err != nil {
		return 0, err
	}
	return c.store.Save(ctx, id, c.st)
}

// LoadSession replaces the state with the snapshot stored under id. Realtime
// is disconnected first since it was authenticated as the previous session.
func (c *Client) LoadSession(ctx context.Context, id string) error {
	if c.store == nil {
		return ErrNoStore
	}
	loaded, err := c.store.Load(ctx, id)
	if err != nil {
		return err
	}
	_ = c.realtime.Disconnect(ctx)
	c.st.Restore(loaded.Snapshot())
	c.logger.Info("session loaded", "session", id)
	return nil
}

// ExportSession seals the state under passphrase for transfer outside any
// store.
func (c *Client) ExportSession(passphrase string) ([]byte, error) {
	data, err := c.st.Serialize()
	if err != nil {
		return nil, err
	}
	return crypto.SealSnapshot(data, passphrase)
}

// ImportSession replaces the state with a blob produced by ExportSession.
func (c *Client) ImportSession(ctx context.Context, sealed []byte, passphrase string) error {
	data, err := crypto.OpenSnapshot(sealed, passphrase)
	if err != nil {
		return err
	}
	_ = c.realtime.Disconnect(ctx)
	return c.st.Deserialize(data)
}

// Close stops realtime, waits for background work and closes the event bus.
func (c *Client) Close(ctx context.Context) error {
	var err error
	c.closeOnce.Do(func() {
		c.bgMu.Lock()
		c.closed = true
		c.bgMu.Unlock()
		err = c.realtime.Disconnect(ctx)
		c.bg.Wait()
		c.realtime.Bus().Close()
	})
	return err
}
