package transport

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jmcleod/ironwire/crypto"
	"github.com/jmcleod/ironwire/state"
)

type recorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *recorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

func newTestClient(t *testing.T, h http.Handler, opts ...Option) (*Client, *recorder) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	st := state.New()

	rec := &recorder{}
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	all := append([]Option{WithConfig(cfg), WithSleep(rec.sleep)}, opts...)
	c, err := New(st, all...)
	require.NoError(t, err)
	return c, rec
}

func TestSendRetriesTransientStatus(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	c, rec := newTestClient(t, h)

	resp, err := c.Send(t.Context(), Request{Path: "/api/v1/feed/timeline/"})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(3), calls.Load())

	delays := rec.recorded()
	require.Len(t, delays, 2)
	assert.Less(t, delays[0], delays[1])
	assert.Equal(t, time.Second, delays[0])
}

func TestSendNotFoundIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":"fail","message":"Page not found"}`))
	})
	c, rec := newTestClient(t, h)

	_, err := c.Send(t.Context(), Request{Path: "/api/v1/users/1/info/"})
	require.ErrorIs(t, err, ErrNotFound)
	var re *ResponseError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, http.StatusNotFound, re.Status)
	assert.Equal(t, int32(1), calls.Load())
	assert.Empty(t, rec.recorded())
}

func TestSendGivesUpAfterMaxRetries(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	})
	c, rec := newTestClient(t, h)

	_, err := c.Send(t.Context(), Request{Path: "/x"})
	require.ErrorIs(t, err, ErrTransientNetwork)
	assert.True(t, IsTransient(err))
	var tne *TransientNetworkError
	require.ErrorAs(t, err, &tne)
	assert.Equal(t, 4, tne.Attempts)
	assert.Equal(t, int32(4), calls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, rec.recorded())
}

func TestSendBackoffIsCapped(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	cfg := DefaultConfig()
	cfg.MaxRetries = 6
	cfg.BackoffMax = 5 * time.Second
	c, rec := newTestClient(t, h)
	cfg.BaseURL = c.cfg.BaseURL
	c.cfg = cfg

	_, err := c.Send(t.Context(), Request{Path: "/x"})
	require.Error(t, err)
	for _, d := range rec.recorded() {
		assert.LessOrEqual(t, d, 5*time.Second)
	}
	assert.Len(t, rec.recorded(), 6)
}

func TestSendStopsOnContextCancel(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	c, _ := newTestClient(t, h, WithSleep(func(ctx context.Context, _ time.Duration) error {
		return context.Canceled
	}))
	_, err := c.Send(t.Context(), Request{Path: "/x"})
	require.ErrorIs(t, err, context.Canceled)
}

func TestSendLocalErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})
	c, rec := newTestClient(t, h)

	_, err := c.Send(t.Context(), Request{Method: http.MethodPost, Path: "/x", JSON: make(chan int)})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
	assert.Contains(t, err.Error(), "encoding request body")
	assert.Zero(t, calls.Load())
	assert.Empty(t, rec.recorded())
}

func TestSendRetriesNetworkErrors(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = base
	rec := &recorder{}
	c, err := New(state.New(), WithConfig(cfg), WithSleep(rec.sleep))
	require.NoError(t, err)

	_, err = c.Send(t.Context(), Request{Path: "/x"})
	require.ErrorIs(t, err, ErrTransientNetwork)
	var tne *TransientNetworkError
	require.ErrorAs(t, err, &tne)
	assert.Equal(t, 4, tne.Attempts)
	assert.Len(t, rec.recorded(), 3)
}

func TestNewBindsHostFromBaseURL(t *testing.T) {
	var gotHost string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok"})
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	require.NoError(t, err)

	st := state.New()
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	c, err := New(st, WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, u.Hostname(), st.Constants().Host)

	_, err = c.Send(t.Context(), Request{Path: "/api/v1/si/fetch_headers/"})
	require.NoError(t, err)
	assert.Equal(t, u.Host, gotHost)

	tok, ok := st.CSRFToken()
	require.True(t, ok)
	assert.Equal(t, "tok", tok)

	snap := st.Snapshot()
	snap.Constants.Host = "i.instagram.com"
	st.Restore(snap)
	assert.Equal(t, u.Hostname(), st.Constants().Host)
	_, ok = st.CSRFToken()
	assert.True(t, ok)
}

func TestNewRejectsBaseURLWithoutHost(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseURL = "/relative"
	_, err := New(state.New(), WithConfig(cfg))
	require.Error(t, err)
}

func TestConcurrentSendsShareState(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := r.URL.Query().Get("n")
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "csrf-" + n})
		w.Header().Set(state.HeaderSetClaim, "claim-"+n)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	c, _ := newTestClient(t, h)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Send(context.Background(), Request{Path: "/x", Query: url.Values{"n": {strconv.Itoa(i)}}})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	tok, ok := c.State().CSRFToken()
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(tok, "csrf-"))
	assert.True(t, strings.HasPrefix(c.State().Claim(), "claim-"))
}

func TestSendAppliesHeadersOnFailure(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "csrftoken", Value: "tok1"})
		w.Header().Set(state.HeaderSetClaim, "hmac.claim")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":"fail","message":"login_required"}`))
	})
	c, _ := newTestClient(t, h)

	_, err := c.Send(t.Context(), Request{Path: "/api/v1/accounts/current_user/"})
	require.ErrorIs(t, err, ErrLoginRequired)

	tok, ok := c.State().CSRFToken()
	require.True(t, ok)
	assert.Equal(t, "tok1", tok)
	assert.Equal(t, "hmac.claim", c.State().Claim())
}

func TestSendPostsFormWithSessionHeaders(t *testing.T) {
	var got *http.Request
	var body string
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Clone(r.Context())
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	c, _ := newTestClient(t, h)
	c.State().Jar().SetCookies(&url.URL{Scheme: "http", Host: c.State().Constants().Host}, []*http.Cookie{
		{Name: "mid", Value: "mid-1"},
		{Name: "csrftoken", Value: "csrf-1"},
	})
	require.True(t, c.State().SetAuthorization("Bearer IGT:2:eyJkc191c2VyX2lkIjoiNDIifQ=="))

	_, err := c.Send(t.Context(), Request{
		Method: http.MethodPost,
		Path:   "/api/v1/accounts/logout/",
		Form:   url.Values{"_uuid": {"u"}},
	})
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, formContentType, got.Header.Get("Content-Type"))
	assert.Equal(t, "_uuid=u", body)
	assert.Equal(t, "mid-1", got.Header.Get("X-MID"))
	assert.Equal(t, "Bearer IGT:2:eyJkc191c2VyX2lkIjoiNDIifQ==", got.Header.Get("Authorization"))
	assert.Contains(t, got.Header.Get("Cookie"), "csrftoken=csrf-1")
	assert.Equal(t, "en-US", got.Header.Get("Accept-Language"))
	assert.Equal(t, c.State().Device().UUID, got.Header.Get("X-IG-Device-ID"))
}

func TestSendInflatesGzip(t *testing.T) {
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(`{"status":"ok","n":1}`))
		_ = gz.Close()
	})
	c, _ := newTestClient(t, h)

	resp, err := c.Send(t.Context(), Request{Path: "/x"})
	require.NoError(t, err)
	var out struct{ N int }
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, 1, out.N)
}

func TestSendCachesSuccessfulGets(t *testing.T) {
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	cache := NewMemoryCache()
	c, _ := newTestClient(t, h, WithCache(cache))

	q1 := url.Values{"b": {"2"}, "a": {"1"}}
	q2 := url.Values{"a": {"1"}, "b": {"2"}}
	_, err := c.Send(t.Context(), Request{Path: "/api/v1/users/search/", Query: q1})
	require.NoError(t, err)
	_, err = c.Send(t.Context(), Request{Path: "/api/v1/users/search/", Query: q2})
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load())

	_, err = c.Send(t.Context(), Request{Path: "/api/v1/users/search/", Query: q2, NoCache: true})
	require.NoError(t, err)
	_, err = c.Send(t.Context(), Request{Method: http.MethodPost, Path: "/api/v1/users/search/"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 1, cache.Len())
}

func TestSendRecordsMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	var calls atomic.Int32
	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	c, _ := newTestClient(t, h, WithMeterProvider(mp))

	_, err := c.Send(t.Context(), Request{Path: "/x"})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(t.Context(), &rm))
	totals := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					totals[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), totals["ironwire.http.requests"])
	assert.Equal(t, int64(1), totals["ironwire.http.retries"])
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		kind   error
	}{
		{"login required", 403, `{"message":"login_required"}`, ErrLoginRequired},
		{"logged out", 403, `{"message":"user_has_logged_out"}`, ErrSessionExpired},
		{"sentry", 400, `{"error_type":"sentry_block"}`, ErrSentryBlock},
		{"inactive", 400, `{"error_type":"inactive user"}`, ErrInactiveUser},
		{"spam", 400, `{"spam":true,"message":"feedback_required"}`, ErrActionSpam},
		{"bad password", 400, `{"error_type":"bad_password"}`, ErrBadPassword},
		{"bad password null challenge", 400, `{"error_type":"bad_password","challenge":null,"message":"wrong"}`, ErrBadPassword},
		{"challenge object", 400, `{"message":"x","challenge":{"url":"/c/"}}`, ErrCheckpoint},
		{"invalid user", 400, `{"error_type":"invalid_user"}`, ErrInvalidUser},
		{"key invalid", 400, `{"message":"Invalid password key"}`, ErrEncryptionKeyInvalid},
		{"private", 400, `{"message":"Not authorized to view user"}`, ErrPrivateUser},
		{"not found", 404, `not json`, ErrNotFound},
		{"generic", 400, `{"message":"something else"}`, ErrResponse},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := classify(nil, tc.status, []byte(tc.body))
			assert.ErrorIs(t, err, tc.kind)
			var re *ResponseError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tc.status, re.Status)
		})
	}
}

func TestClassifyCheckpointStoresPayload(t *testing.T) {
	st := state.New()
	body := []byte(`{"message":"challenge_required","challenge":{"api_path":"/challenge/1/"}}`)

	err := classify(st, 400, body)
	require.ErrorIs(t, err, ErrCheckpoint)
	var ce *CheckpointError
	require.ErrorAs(t, err, &ce)
	var re *ResponseError
	require.ErrorAs(t, err, &re)

	stored, err := st.Checkpoint()
	require.NoError(t, err)
	assert.JSONEq(t, string(body), string(stored))
}

func TestClassifyNullChallengeLeavesStateClean(t *testing.T) {
	st := state.New()
	err := classify(st, 400, []byte(`{"status":"fail","error_type":"bad_password","challenge":null}`))
	require.ErrorIs(t, err, ErrBadPassword)
	assert.NotErrorIs(t, err, ErrCheckpoint)

	_, err = st.Checkpoint()
	assert.ErrorIs(t, err, state.ErrNoCheckpoint)
}

func TestClassifyTwoFactor(t *testing.T) {
	body := []byte(`{"two_factor_required":true,"two_factor_info":{"username":"bob","two_factor_identifier":"abc","totp_two_factor_on":true}}`)
	err := classify(nil, 400, body)
	var tfe *TwoFactorRequiredError
	require.ErrorAs(t, err, &tfe)
	assert.ErrorIs(t, err, ErrTwoFactorRequired)
	assert.Equal(t, "abc", tfe.Info.TwoFactorIdentifier)
	assert.True(t, tfe.Info.TOTPTwoFactorOn)
}

func TestSignerSign(t *testing.T) {
	st := state.New()
	s := NewSigner(st)
	payload := map[string]string{"_uuid": "u"}

	signed, err := s.Sign(payload)
	require.NoError(t, err)
	assert.Equal(t, st.Constants().SignatureVersion, signed.KeyVersion)

	hexSig, jsonPart, ok := strings.Cut(signed.Body, ".")
	require.True(t, ok)
	assert.JSONEq(t, `{"_uuid":"u"}`, jsonPart)
	assert.Len(t, hexSig, 64)
	assert.True(t, crypto.VerifyHMAC([]byte(st.Constants().SignatureKey), []byte(jsonPart), hexSig))

	form := signed.Form()
	assert.Equal(t, signed.Body, form.Get("signed_body"))
	assert.Equal(t, signed.KeyVersion, form.Get("ig_sig_key_version"))

	raw, err := s.Sign(`{"a":1}`)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(raw.Body, `.{"a":1}`))
}

func TestDefaultHeadersAreFresh(t *testing.T) {
	st := state.New()
	h1 := DefaultHeaders(st)
	h1.Set("X-IG-App-ID", "tampered")
	h2 := DefaultHeaders(st)
	assert.Equal(t, st.Constants().FBAnalyticsAppID, h2.Get("X-IG-App-ID"))
	assert.Empty(t, h2.Get("Authorization"))
	assert.Empty(t, h2.Get("X-MID"))
	assert.Equal(t, "0", h2.Get("X-IG-WWW-Claim"))
	assert.Equal(t, st.Device().DeviceID, h2.Get("X-IG-Android-ID"))
}

func TestResponseDecodeError(t *testing.T) {
	r := &Response{Body: []byte("nope")}
	var v map[string]any
	err := r.Decode(&v)
	require.Error(t, err)
	var syn *json.SyntaxError
	assert.True(t, errors.As(err, &syn))
}
