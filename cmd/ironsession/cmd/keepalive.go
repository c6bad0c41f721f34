package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/jmcleod/ironsession/client"
	"github.com/jmcleod/ironsession/refresh"
	"github.com/jmcleod/ironsession/session"
)

var keepaliveCmd = &cobra.Command{
	Use:   "keepalive",
	Short: "Keep the stored session fresh until interrupted",
	Long: `Checks the session every keepalive.interval and refreshes it once it is
inside the safety window. When keepalive.metrics_addr is set, /metrics and
/health are served on that address.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if !a.store.IsAuthenticated() {
			return session.ErrNotAuthenticated
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		printBanner(cmd.OutOrStdout())

		done := make(chan error, 1)
		var server *http.Server
		if cfg.Keepalive.MetricsAddr != "" {
			server = &http.Server{
				Addr:              cfg.Keepalive.MetricsAddr,
				Handler:           monitorRouter(a.store, a.registry),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					done <- fmt.Errorf("metrics server failed: %w", err)
				}
			}()
			logger.Info("serving metrics", "addr", cfg.Keepalive.MetricsAddr)
		}

		loopErr := make(chan error, 1)
		go func() { loopErr <- keepalive(ctx, a.client.Coordinator(), a.store, cfg.Keepalive.Interval) }()

		select {
		case err = <-loopErr:
		case err = <-done:
			stop()
			<-loopErr
		}

		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := server.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("metrics server shutdown", "error", serr)
			}
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(keepaliveCmd)
}

// freshener is the part of the refresh coordinator keepalive drives.
type freshener interface {
	EnsureFresh(ctx context.Context) (string, error)
}

// keepalive refreshes the session whenever it enters the safety window. It
// returns nil when ctx ends. A failure that ended the session, or a rejected
// refresh cookie, is returned; other failures are logged and retried on the
// next tick.
func keepalive(ctx context.Context, f freshener, store *session.Store, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		_, err := f.EnsureFresh(ctx)
		switch {
		case err == nil:
			logger.Debug("session fresh", "expires_at", store.ExpiresAt())
		case errors.Is(err, refresh.ErrNoSession):
			return session.ErrNotAuthenticated
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, client.ErrUnauthorized):
			if rerr := store.Reset(); rerr != nil {
				logger.Warn("resetting session", "error", rerr)
			}
			return fmt.Errorf("session ended: %w", err)
		case !store.IsAuthenticated():
			return fmt.Errorf("session ended: %w", err)
		default:
			logger.Warn("keepalive refresh failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// monitorRouter serves Prometheus metrics and a health check that reports
// 503 once the session is gone.
func monitorRouter(store *session.Store, reg *prometheus.Registry) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if !store.IsAuthenticated() {
			http.Error(w, "signed out", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("OK"))
	})
	return r
}
