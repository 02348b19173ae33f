package cmd

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironwire/api"
	"github.com/jmcleod/ironwire/internal/telemetry"
	"github.com/jmcleod/ironwire/realtime"
	"github.com/jmcleod/ironwire/realtime/kafkasink"
)

var serveSession string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		// Installed before the client so the transport picks it up.
		metrics := telemetry.Setup(cfg.MetricsEnable, logger)
		if metrics != nil {
			defer metrics.Shutdown(context.Background())
		}

		a, err := newApp(ctx, cfg, serveSession)
		if err != nil {
			return err
		}
		defer a.Close(context.Background())

		if serveSession != "" {
			if err := a.client.LoadSession(ctx, serveSession); err != nil {
				return fmt.Errorf("failed to load session %q: %w", serveSession, err)
			}
		}

		if cfg.KafkaEnabled() {
			sink, err := kafkasink.New(cfg.KafkaBrokers, cfg.KafkaTopic,
				kafkasink.WithLogger(logger), kafkasink.WithKey(serveSession))
			if err != nil {
				return err
			}
			defer sink.Close()
			go sink.Run(ctx, a.client.Events().Subscribe(realtime.DefaultSubscriptionBuffer))
		}

		ctrl := api.New(a.client,
			api.WithLogger(logger),
			api.WithToken(cfg.APIToken),
			api.WithAlertFunc(func(e api.AlertEvent) {
				logger.Warn("anomaly detected", "type", e.Type, "count", e.Count, "threshold", e.Threshold)
			}),
		)
		go ctrl.SweepLimiters(ctx, time.Minute)

		r := chi.NewRouter()
		r.Use(middleware.Logger)
		r.Use(middleware.Recoverer)

		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte("OK"))
		})
		r.Mount("/api/v1", ctrl.Router())
		if metrics != nil {
			r.Handle("/metrics", ctrl.TokenMiddleware(metrics.Handler()))
		}

		server := &http.Server{
			Addr:              cfg.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			// Login and realtime connect wait on upstream; event streams
			// clear their own deadline.
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		}
		if cfg.TLSCert != "" {
			cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
			if err != nil {
				return fmt.Errorf("failed to load TLS key pair: %w", err)
			}
			server.TLSConfig = &tls.Config{
				Certificates: []tls.Certificate{cert},
				MinVersion:   tls.VersionTLS12,
			}
		}

		done := make(chan error, 1)
		go func() {
			var err error
			if server.TLSConfig != nil {
				err = server.ListenAndServeTLS("", "")
			} else {
				err = server.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner(cmd.OutOrStdout())
		logger.Info("control API listening", "addr", cfg.Addr, "tls", server.TLSConfig != nil,
			"store", cfg.StoreBackend, "token_required", cfg.APIToken != "")
		if cfg.APIToken == "" && !isLoopback(cfg.Addr) {
			logger.Warn("control API has no token and is not bound to loopback")
		}

		select {
		case <-ctx.Done():
			fmt.Fprintln(os.Stderr, "\nShutting down...")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "127.0.0.1:8086", "Address to listen on")
	serveCmd.Flags().String("token", "", "Bearer token required on API routes")
	serveCmd.Flags().String("tls-cert", "", "Path to TLS certificate file")
	serveCmd.Flags().String("tls-key", "", "Path to TLS key file")
	serveCmd.Flags().Bool("metrics", false, "Collect metrics and serve them on /metrics")
	serveCmd.Flags().StringVar(&serveSession, "session", "", "Stored session to load at startup")
	bindFlag(v, "addr", serveCmd, "addr")
	bindFlag(v, "api_token", serveCmd, "token")
	bindFlag(v, "tls_cert", serveCmd, "tls-cert")
	bindFlag(v, "tls_key", serveCmd, "tls-key")
	bindFlag(v, "metrics", serveCmd, "metrics")
}
