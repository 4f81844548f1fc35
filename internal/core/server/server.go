// Package server runs the HTTP listener with graceful shutdown.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mohammed-shakir/broadband-coverage/internal/core/health"
	"github.com/mohammed-shakir/broadband-coverage/internal/core/middleware"
)

type Options struct {
	Addr         string
	ReadyTimeout time.Duration
	Checks       []health.Check
	// MetricsPath and Metrics mount the scrape endpoint on the API listener;
	// leave Metrics nil when it is served on its own port.
	MetricsPath string
	Metrics     http.Handler
}

// Router builds the chi router with middlewares, health routes and the
// API routes added by mount.
func Router(opts Options, logger *slog.Logger, mount func(chi.Router)) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recover(logger))
	r.Use(middleware.Logging(logger))
	r.Use(middleware.CORS())

	r.Get("/healthz", health.Liveness())
	readyTimeout := opts.ReadyTimeout
	if readyTimeout <= 0 {
		readyTimeout = 2 * time.Second
	}
	r.Get("/readyz", health.Readiness(readyTimeout, opts.Checks...))
	if opts.Metrics != nil {
		path := opts.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, opts.Metrics)
	}
	if mount != nil {
		mount(r)
	}
	return r
}

// Run serves h on addr until ctx is canceled.
func Run(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		// coverage builds fan out over the whole tile grid
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
