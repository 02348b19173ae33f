package client

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcleod/ironwire/crypto"
	"github.com/jmcleod/ironwire/persist"
	"github.com/jmcleod/ironwire/realtime"
	"github.com/jmcleod/ironwire/state"
	"github.com/jmcleod/ironwire/storage/memory"
	"github.com/jmcleod/ironwire/transport"
)

// upstream answers the account endpoints. It does not decrypt passwords.
type upstream struct {
	pub         string
	currentUser atomic.Int32
	logouts     atomic.Int32

	mu                sync.Mutex
	currentUserStatus int
	currentUserBody   string
}

// failCurrentUser makes the current-user endpoint answer with status and body.
func (u *upstream) failCurrentUser(status int, body string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.currentUserStatus = status
	u.currentUserBody = body
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub, err := crypto.EncodePublicKey(&priv.PublicKey)
	require.NoError(t, err)
	return &upstream{pub: pub}
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/qe/sync/":
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf"})
		w.Header().Set(state.HeaderSetKeyID, "7")
		w.Header().Set(state.HeaderSetPubKey, u.pub)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case "/api/v1/accounts/login/":
		http.SetCookie(w, &http.Cookie{Name: "ds_user_id", Value: "42"})
		http.SetCookie(w, &http.Cookie{Name: "ds_user", Value: "bob"})
		http.SetCookie(w, &http.Cookie{Name: "sessionid", Value: "sess"})
		_, _ = w.Write([]byte(`{"status":"ok","logged_in_user":{"pk":42,"username":"bob"}}`))
	case "/api/v1/accounts/logout/":
		u.logouts.Add(1)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	case "/api/v1/accounts/current_user/":
		u.currentUser.Add(1)
		u.mu.Lock()
		status, body := u.currentUserStatus, u.currentUserBody
		u.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(body))
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok","user":{"pk":42,"username":"bob"}}`))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type stubConn struct {
	closed chan struct{}
	once   sync.Once
}

func (c *stubConn) Read(ctx context.Context) (realtime.Frame, error) {
	select {
	case <-c.closed:
		return realtime.Frame{}, realtime.ErrConnClosed
	case <-ctx.Done():
		return realtime.Frame{}, ctx.Err()
	}
}

func (c *stubConn) Write(context.Context, realtime.Frame) error { return nil }
func (c *stubConn) Ping(context.Context) error                  { return nil }
func (c *stubConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

type stubDialer struct {
	calls atomic.Int32
	err   error
}

func (d *stubDialer) Dial(context.Context, string, realtime.Handshake) (realtime.Conn, error) {
	d.calls.Add(1)
	if d.err != nil {
		return nil, d.err
	}
	return &stubConn{closed: make(chan struct{})}, nil
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return true }

func newTestClient(t *testing.T, u *upstream, d realtime.Dialer, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(u)
	t.Cleanup(srv.Close)
	tcfg := transport.DefaultConfig()
	tcfg.BaseURL = srv.URL
	rcfg := realtime.DefaultConfig()
	rcfg.Endpoints = []string{"wss://broker.test/mqtt"}

	all := append([]Option{
		WithTransportOptions(
			transport.WithConfig(tcfg),
			transport.WithSleep(func(context.Context, time.Duration) error { return nil }),
		),
		WithDialer(d),
		WithRealtimeOptions(
			realtime.WithConfig(rcfg),
			realtime.WithAfterFunc(func(time.Duration, func()) realtime.Timer { return noopTimer{} }),
		),
	}, opts...)
	c, err := New(all...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close(context.Background()) })
	return c
}

func waitFor[T realtime.Event](t *testing.T, sub *realtime.Subscription) T {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-sub.C:
			require.True(t, ok, "bus closed")
			if v, ok := e.(T); ok {
				return v
			}
		case <-timeout:
			var zero T
			t.Fatalf("timed out waiting for %T", zero)
			return zero
		}
	}
}

func TestLoginStartsRealtime(t *testing.T) {
	d := &stubDialer{}
	c := newTestClient(t, newUpstream(t), d)
	sub := c.Events().Subscribe(realtime.DefaultSubscriptionBuffer)

	user, err := c.Login(t.Context(), "bob", []byte("hunter2"))
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)

	connected := waitFor[realtime.Connected](t, sub)
	assert.Equal(t, "wss://broker.test/mqtt", connected.Endpoint)
	assert.True(t, c.Realtime().IsConnected())
}

func TestRealtimeFailureDoesNotFailLogin(t *testing.T) {
	d := &stubDialer{err: errors.New("broker unreachable")}
	c := newTestClient(t, newUpstream(t), d)
	sub := c.Events().Subscribe(realtime.DefaultSubscriptionBuffer)

	user, err := c.Login(t.Context(), "bob", []byte("hunter2"))
	require.NoError(t, err)
	assert.Equal(t, "bob", user.Username)
	assert.True(t, c.State().HasValidSession())

	ev := waitFor[realtime.ErrorEvent](t, sub)
	assert.ErrorIs(t, ev.Cause, realtime.ErrAllEndpointsFailed)
	assert.False(t, c.Realtime().IsConnected())
}

func TestRealtimeOnLoginDisabled(t *testing.T) {
	d := &stubDialer{}
	c := newTestClient(t, newUpstream(t), d, WithRealtimeOnLogin(false))

	_, err := c.Login(t.Context(), "bob", []byte("hunter2"))
	require.NoError(t, err)
	require.NoError(t, c.Close(t.Context()))
	assert.Zero(t, d.calls.Load())
}

func TestLoginAfterCloseDoesNotStartRealtime(t *testing.T) {
	d := &stubDialer{}
	c := newTestClient(t, newUpstream(t), d)
	require.NoError(t, c.Close(t.Context()))

	_, err := c.Login(t.Context(), "bob", []byte("hunter2"))
	require.NoError(t, err)
	require.ErrorIs(t, c.ConnectRealtime(t.Context()), ErrClosed)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, d.calls.Load())
	assert.False(t, c.Realtime().IsConnected())
}

func TestLogoutDisconnectsAndClearsSession(t *testing.T) {
	u := newUpstream(t)
	c := newTestClient(t, u, &stubDialer{})
	sub := c.Events().Subscribe(realtime.DefaultSubscriptionBuffer)

	_, err := c.Login(t.Context(), "bob", []byte("hunter2"))
	require.NoError(t, err)
	waitFor[realtime.Connected](t, sub)

	require.NoError(t, c.Logout(t.Context()))
	assert.Equal(t, int32(1), u.logouts.Load())
	assert.False(t, c.Realtime().IsConnected())
	assert.False(t, c.State().HasValidSession())
}

func TestIsSessionValid(t *testing.T) {
	u := newUpstream(t)
	c := newTestClient(t, u, &stubDialer{}, WithRealtimeOnLogin(false))

	ok, err := c.IsSessionValid(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, u.currentUser.Load(), "a logged-out state never probes the server")

	_, err = c.Login(t.Context(), "bob", []byte("hunter2"))
	require.NoError(t, err)
	ok, err = c.IsSessionValid(t.Context())
	require.NoError(t, err)
	assert.True(t, ok)

	u.failCurrentUser(http.StatusForbidden, `{"status":"fail","message":"login_required"}`)
	ok, err = c.IsSessionValid(t.Context())
	require.NoError(t, err)
	assert.False(t, ok)

	u.failCurrentUser(http.StatusServiceUnavailable, "")
	ok, err = c.IsSessionValid(t.Context())
	assert.ErrorIs(t, err, transport.ErrTransientNetwork)
	assert.False(t, ok)
}

func TestSaveAndLoadSession(t *testing.T) {
	ctx := t.Context()
	u := newUpstream(t)

	c := newTestClient(t, u, &stubDialer{}, WithRealtimeOnLogin(false))
	_, err := c.SaveSession(ctx, "bob")
	assert.ErrorIs(t, err, ErrNoStore)
	assert.ErrorIs(t, c.LoadSession(ctx, "bob"), ErrNoStore)

	key := make([]byte, 32)
	_, err = rand.Read(key)
	require.NoError(t, err)
	repo := memory.NewRepository()
	store, err := persist.New(repo, key)
	require.NoError(t, err)

	c = newTestClient(t, u, &stubDialer{}, WithRealtimeOnLogin(false), WithStore(store))
	_, err = c.SaveSession(ctx, "")
	assert.Error(t, err, "no username to default to before login")

	_, err = c.Login(ctx, "bob", []byte("hunter2"))
	require.NoError(t, err)
	rev, err := c.SaveSession(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rev)

	fresh := newTestClient(t, u, &stubDialer{}, WithRealtimeOnLogin(false), WithStore(store))
	require.False(t, fresh.State().HasValidSession())
	require.NoError(t, fresh.LoadSession(ctx, "bob"))
	assert.True(t, fresh.State().HasValidSession())
	assert.Equal(t, c.State().Device(), fresh.State().Device())
}

func TestExportImportSession(t *testing.T) {
	u := newUpstream(t)
	c := newTestClient(t, u, &stubDialer{}, WithRealtimeOnLogin(false))
	_, err := c.Login(t.Context(), "bob", []byte("hunter2"))
	require.NoError(t, err)

	sealed, err := c.ExportSession("export passphrase")
	require.NoError(t, err)

	other := newTestClient(t, u, &stubDialer{}, WithRealtimeOnLogin(false))
	assert.ErrorIs(t, other.ImportSession(t.Context(), sealed, "nope"), crypto.ErrWrongPassphrase)
	require.NoError(t, other.ImportSession(t.Context(), sealed, "export passphrase"))
	assert.True(t, other.State().HasValidSession())
}
