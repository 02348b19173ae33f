// Package api exposes one client session over a local HTTP control surface:
// login and logout, session persistence, realtime control and a
// server-sent-events stream of realtime events.
package api

import (
	"context"
	_ "embed"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-openapi/runtime/middleware"

	"github.com/jmcleod/ironwire/client"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	client         *client.Client
	token          string
	loginLimiter   *attemptLimiter
	ipLimiter      *attemptLimiter
	audit          *auditLogger
	logger         *slog.Logger
	connectTimeout time.Duration
	heartbeat      time.Duration
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request and audit events.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithToken requires every API route except health and docs to carry
// "Authorization: Bearer <token>". An empty token disables the check.
func WithToken(token string) Option {
	return func(a *API) {
		a.token = token
	}
}

// WithAlertFunc installs a callback for anomaly alerts such as login failure
// spikes.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.audit.metrics = newMetricsCollector(fn)
	}
}

// WithConnectTimeout bounds POST /realtime/connect.
func WithConnectTimeout(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.connectTimeout = d
		}
	}
}

// WithEventHeartbeat sets the comment interval that keeps idle event
// streams open through proxies.
func WithEventHeartbeat(d time.Duration) Option {
	return func(a *API) {
		if d > 0 {
			a.heartbeat = d
		}
	}
}

// New creates a new API serving c.
func New(c *client.Client, opts ...Option) *API {
	a := &API{
		client:         c,
		loginLimiter:   newLoginRateLimiter(),
		ipLimiter:      newIPRateLimiter(),
		audit:          &auditLogger{},
		connectTimeout: 30 * time.Second,
		heartbeat:      15 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	a.audit.logger = a.logger.With("component", "audit")
	a.logger = a.logger.With("component", "api")
	return a
}

// Router returns a chi.Router with all API routes mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/api/v1/openapi.yaml",
		Path:    "api/v1/docs",
	}, nil))

	r.Get("/health", a.Health)

	r.Group(func(r chi.Router) {
		r.Use(SecurityHeaders)
		r.Use(a.TokenMiddleware)

		r.Get("/session", a.GetSession)
		r.Get("/session/validate", a.ValidateSession)
		r.Post("/session/login", a.Login)
		r.Post("/session/two-factor", a.TwoFactorLogin)
		r.Post("/session/logout", a.Logout)
		r.Post("/session/save", a.SaveSession)
		r.Post("/session/load", a.LoadSession)

		r.Get("/realtime", a.GetRealtime)
		r.Post("/realtime/connect", a.ConnectRealtime)
		r.Post("/realtime/disconnect", a.DisconnectRealtime)
		r.Post("/realtime/direct", a.SendDirect)
		r.Get("/realtime/events", a.Events)
	})

	return r
}

// SweepLimiters drops expired login-attempt records every interval until
// ctx is done.
func (a *API) SweepLimiters(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.loginLimiter.sweep()
			a.ipLimiter.sweep()
		}
	}
}
