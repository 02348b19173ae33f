// Package transport issues signed HTTP calls that look like the official
// mobile client. Every response, successful or not, is folded back into the
// session state before it is classified.
package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/jmcleod/ironwire/internal/backoff"
	"github.com/jmcleod/ironwire/state"
)

const formContentType = "application/x-www-form-urlencoded; charset=UTF-8"

// Client sends requests on behalf of one session.
type Client struct {
	st            *state.State
	cfg           Config
	http          *http.Client
	cache         ResponseCache
	sleep         func(context.Context, time.Duration) error
	meterProvider metric.MeterProvider
	metrics       *instruments
	logger        *slog.Logger
	base          *url.URL
}

// New returns a Client for st.
func New(st *state.State, opts ...Option) (*Client, error) {
	c := &Client{
		st:    st,
		cfg:   DefaultConfig(),
		sleep: sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "transport")

	base, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parsing base url: %w", err)
	}
	if base.Hostname() == "" {
		return nil, fmt.Errorf("base url %q has no host", c.cfg.BaseURL)
	}
	c.base = base
	st.BindHost(base.Hostname())

	if c.http == nil {
		c.http, err = newHTTPClient(st, c.cfg.Timeout)
		if err != nil {
			return nil, err
		}
	}
	if c.meterProvider == nil {
		c.meterProvider = otel.GetMeterProvider()
	}
	c.metrics, err = newInstruments(c.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("creating instruments: %w", err)
	}
	return c, nil
}

func newHTTPClient(st *state.State, timeout time.Duration) (*http.Client, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	if proxy := st.ProxyURL(); proxy != "" {
		u, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy url: %w", err)
		}
		base.Proxy = http.ProxyURL(u)
	}
	return &http.Client{
		Transport: otelhttp.NewTransport(base),
		Timeout:   timeout,
	}, nil
}

// State returns the session state the client reads and updates.
func (c *Client) State() *state.State { return c.st }

// Signer returns a Signer for the client's session.
func (c *Client) Signer() *Signer { return NewSigner(c.st) }

// Cache returns the configured response cache, or nil.
func (c *Client) Cache() ResponseCache { return c.cache }

// Send performs req. Transient failures are retried with capped exponential
// backoff; everything else is classified once and returned.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	method := req.method()

	if c.cache != nil && req.cacheable() {
		resp, ok, err := c.cache.Get(ctx, req.cacheKey())
		if err != nil {
			c.logger.Warn("response cache read failed", "path", req.Path, "error", err)
		} else if ok {
			c.metrics.cacheHit(ctx)
			return resp, nil
		}
	}

	var lastErr error
	for attempt := 0; ; attempt++ {
		resp, err := c.do(ctx, req)
		var netErr *networkError
		switch {
		case err != nil && ctx.Err() != nil:
			c.metrics.request(ctx, method, "canceled")
			return nil, ctx.Err()
		case errors.As(err, &netErr):
			lastErr = netErr.err
		case err != nil:
			c.metrics.request(ctx, method, "error")
			return nil, err
		case isSuccess(resp.Status, resp.Body):
			c.metrics.request(ctx, method, "ok")
			if c.cache != nil && req.cacheable() {
				if err := c.cache.Set(ctx, req.cacheKey(), resp); err != nil {
					c.logger.Warn("response cache write failed", "path", req.Path, "error", err)
				}
			}
			return resp, nil
		case isTransientStatus(resp.Status):
			lastErr = classify(nil, resp.Status, resp.Body)
		default:
			c.metrics.request(ctx, method, "error")
			return nil, classify(c.st, resp.Status, resp.Body)
		}

		if attempt >= c.cfg.MaxRetries {
			c.metrics.request(ctx, method, "transient")
			return nil, &TransientNetworkError{Attempts: attempt + 1, Err: lastErr}
		}

		delay := backoff.Exponential(c.cfg.BackoffBase, c.cfg.BackoffMax, attempt)
		c.logger.Debug("retrying request", "path", req.Path, "attempt", attempt+1, "delay", delay, "error", lastErr)
		c.metrics.retry(ctx, method)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// networkError marks a failure on the wire. Only these, and transient
// statuses, are retried; local failures such as encoding are returned as is.
type networkError struct {
	err error
}

func (e *networkError) Error() string { return e.err.Error() }

func (e *networkError) Unwrap() error { return e.err }

// do performs a single HTTP round trip and applies the response to the state.
func (c *Client) do(ctx context.Context, req Request) (*Response, error) {
	u := c.base.ResolveReference(&url.URL{Path: req.Path})
	if len(req.Query) > 0 {
		u.RawQuery = req.Query.Encode()
	}

	var body io.Reader
	var contentType string
	switch {
	case req.Form != nil:
		body = strings.NewReader(req.Form.Encode())
		contentType = formContentType
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.method(), u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header = DefaultHeaders(c.st)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, vs := range req.Headers {
		httpReq.Header[http.CanonicalHeaderKey(k)] = vs
	}
	if cookie := c.st.Jar().Header(u.Hostname()); cookie != "" {
		httpReq.Header.Set("Cookie", cookie)
	}
	httpReq.Host = u.Host
	httpReq.Header.Del("Host")

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &networkError{err: err}
	}
	defer httpResp.Body.Close()

	c.st.ApplyResponse(u, httpResp.Header)

	data, err := readBody(httpResp)
	if err != nil {
		return nil, &networkError{err: fmt.Errorf("reading response: %w", err)}
	}
	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: data}, nil
}

// readBody drains the response, inflating it when the server honoured our
// explicit Accept-Encoding.
func readBody(resp *http.Response) ([]byte, error) {
	var r io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		r = gz
	}
	return io.ReadAll(r)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsTransient reports whether err is a spent-retry transient failure.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientNetwork)
}
