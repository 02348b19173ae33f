package cmd

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/jmcleod/ironwire/client"
	"github.com/jmcleod/ironwire/internal/config"
	"github.com/jmcleod/ironwire/internal/util"
	"github.com/jmcleod/ironwire/persist"
	"github.com/jmcleod/ironwire/realtime"
	"github.com/jmcleod/ironwire/state"
	"github.com/jmcleod/ironwire/storage"
	bboltstorage "github.com/jmcleod/ironwire/storage/bbolt"
	"github.com/jmcleod/ironwire/storage/memory"
	"github.com/jmcleod/ironwire/storage/postgres"
	"github.com/jmcleod/ironwire/storage/sqlite"
	"github.com/jmcleod/ironwire/transport"
)

var errNoPassphrase = errors.New("IRONWIRE_STORE_PASSPHRASE must be set for a persistent store")

func newLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// openStore opens the configured backend and unlocks it with the store
// passphrase. The returned func closes the backend.
func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*persist.Store, func() error, error) {
	var (
		repo    storage.Repository
		revs    storage.RevisionCache
		closeFn = func() error { return nil }
	)

	switch cfg.StoreBackend {
	case config.BackendMemory:
		// Nothing outlives the process, so an ephemeral key is enough.
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, nil, err
		}
		store, err := persist.New(memory.NewRepository(), key, persist.WithLogger(logger))
		return store, closeFn, err
	case config.BackendBolt:
		if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
			return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		s, err := bboltstorage.NewRepositoryFromFile(filepath.Join(cfg.DataDir, "sessions.db"), nil)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		rc, err := bboltstorage.NewRevisionCache(s.DB())
		if err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("failed to open revision cache: %w", err)
		}
		repo, revs, closeFn = s, rc, s.Close
	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, filepath.Join(cfg.DataDir, "sessions.sqlite"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		repo, revs, closeFn = s, s, s.Close
	case config.BackendPostgres:
		s, err := postgres.NewRepositoryFromDSN(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open session storage: %w", err)
		}
		rc, err := postgres.NewRevisionCache(ctx, s.Pool())
		if err != nil {
			s.Close()
			return nil, nil, fmt.Errorf("failed to open revision cache: %w", err)
		}
		repo, revs, closeFn = s, rc, s.Close
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}

	if cfg.StorePassphrase == "" {
		closeFn()
		return nil, nil, errNoPassphrase
	}
	params, err := util.Argon2idProfile(cfg.KDFProfile)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	store, err := persist.NewFromPassphrase(ctx, repo, cfg.StorePassphrase,
		persist.WithRevisionCache(revs),
		persist.WithKDFParams(params),
		persist.WithLogger(logger),
	)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	logger.Debug("session store opened", "backend", cfg.StoreBackend)
	return store, closeFn, nil
}

// app bundles a client with the resources it owns.
type app struct {
	client  *client.Client
	store   *persist.Store
	closers []func() error
}

func (a *app) Close(ctx context.Context) {
	if a.client != nil {
		if err := a.client.Close(ctx); err != nil {
			logger.Warn("client close failed", "error", err)
		}
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Warn("close failed", "error", err)
		}
	}
}

// newApp builds a client from cfg with the session store attached. The
// session id scopes the Redis response cache.
func newApp(ctx context.Context, cfg *config.Config, sessionID string, extra ...client.Option) (*app, error) {
	a := &app{}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, closeStore)

	var stateOpts []state.Option
	if cfg.DeviceSeed != "" {
		stateOpts = append(stateOpts, state.WithSeed(cfg.DeviceSeed))
	}
	if cfg.ProxyURL != "" {
		stateOpts = append(stateOpts, state.WithProxyURL(cfg.ProxyURL))
	}

	tcfg := transport.DefaultConfig()
	tcfg.BaseURL = cfg.BaseURL
	tcfg.Timeout = cfg.HTTPTimeout
	transportOpts := []transport.Option{transport.WithConfig(tcfg)}
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			a.Close(ctx)
			return nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		a.closers = append(a.closers, rdb.Close)
		transportOpts = append(transportOpts, transport.WithCache(transport.NewRedisCache(rdb, cachePrefix(sessionID))))
	}

	rcfg := realtime.DefaultConfig()
	if len(cfg.RealtimeEndpoints) > 0 {
		rcfg.Endpoints = cfg.RealtimeEndpoints
	}
	rcfg.MaxReconnectAttempts = cfg.RealtimeMaxRetry
	var dialer realtime.Dialer = &realtime.MQTTDialer{}
	if cfg.RealtimeDialer == config.DialerWebSocket {
		dialer = &realtime.WebSocketDialer{}
	}

	opts := []client.Option{
		client.WithLogger(logger),
		client.WithStateOptions(stateOpts...),
		client.WithTransportOptions(transportOpts...),
		client.WithDialer(dialer),
		client.WithRealtimeOptions(realtime.WithConfig(rcfg)),
		client.WithStore(store),
		client.WithRealtimeOnLogin(cfg.RealtimeOnLogin),
	}
	c, err := client.New(append(opts, extra...)...)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.client = c
	return a, nil
}

func cachePrefix(sessionID string) string {
	if sessionID == "" {
		sessionID = "default"
	}
	return "ironwire:cache:" + sessionID
}
