// Package app provides application lifecycle management for the reference server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/ociref-server/internal/config"
)

// ReferenceApp encapsulates all components needed to run the reference server.
// It provides lifecycle management and graceful shutdown capabilities.
type ReferenceApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// metricsServer serves the Prometheus scrape endpoint; nil when disabled
	metricsServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
	closeOnce  sync.Once
}

// Start runs the API server and, when configured, the metrics server.
// It blocks until Stop is called or one of the servers fails, in which case
// the others are closed and the error is returned.
func (app *ReferenceApp) Start() error {
	g, gctx := errgroup.WithContext(app.ctx)

	for _, srv := range app.servers() {
		g.Go(func() error {
			slog.Info("Server listening", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server on %s failed: %w", srv.Addr, err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		for _, srv := range app.servers() {
			_ = srv.Close()
		}
		return nil
	})

	return g.Wait()
}

// Stop gracefully stops the application with the given timeout. It shuts the
// servers down, ends Start and closes the store.
func (app *ReferenceApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	for _, srv := range app.servers() {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("server on %s forced to shutdown: %w", srv.Addr, err))
		}
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	app.closeOnce.Do(func() {
		if app.components != nil && app.components.Store != nil {
			if err := app.components.Store.Close(); err != nil {
				errs = append(errs, fmt.Errorf("failed to close store: %w", err))
			}
		}
	})

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *ReferenceApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the API server (useful for testing to get the actual port)
func (app *ReferenceApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// GetMetricsServer returns the Prometheus scrape server, or nil when disabled
func (app *ReferenceApp) GetMetricsServer() *http.Server {
	return app.metricsServer
}

func (app *ReferenceApp) servers() []*http.Server {
	servers := []*http.Server{app.httpServer}
	if app.metricsServer != nil {
		servers = append(servers, app.metricsServer)
	}
	return servers
}
