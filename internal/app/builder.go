package app

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/ociref-server/internal/api"
	"github.com/stacklok/ociref-server/internal/config"
	"github.com/stacklok/ociref-server/internal/kv"
	"github.com/stacklok/ociref-server/internal/kv/factory"
	"github.com/stacklok/ociref-server/internal/telemetry"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// ReferenceAppOptions is a function that configures the reference app builder
type ReferenceAppOptions func(*referenceAppConfig) error

// referenceAppConfig collects the builder inputs. It supports dependency
// injection for testing while providing sensible defaults for production.
type referenceAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	store kv.Client

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
	maxBodyBytes   int64

	// Telemetry components
	meterProvider  metric.MeterProvider
	tracerProvider trace.TracerProvider
	metricsAddress string
	metricsHandler http.Handler
}

func baseConfig(opts ...ReferenceAppOptions) (*referenceAppConfig, error) {
	cfg := &referenceAppConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		cfg.config = config.Default()
	}
	if cfg.address == "" {
		cfg.address = cfg.config.GetAddress()
	}

	return cfg, nil
}

// NewReferenceApp builds the application: it opens the configured store,
// waits for it to answer and wires the HTTP servers around it. Canceling ctx
// aborts the build but does not stop a started app; use Stop for that.
func NewReferenceApp(
	ctx context.Context,
	opts ...ReferenceAppOptions,
) (*ReferenceApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if cfg.store == nil {
		cfg.store, err = factory.New(ctx, &cfg.config.Storage)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
	}

	// Ensure cleanup happens on error
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			_ = cfg.store.Close()
		}
	}()

	httpServer, err := buildHTTPServer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	cleanupNeeded = false

	return &ReferenceApp{
		config: cfg.config,
		components: &AppComponents{
			Store: cfg.store,
		},
		httpServer:    httpServer,
		metricsServer: buildMetricsServer(cfg),
		ctx:           appCtx,
		cancelFunc:    cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) ReferenceAppOptions {
	return func(cfg *referenceAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding the configuration
func WithAddress(addr string) ReferenceAppOptions {
	return func(cfg *referenceAppConfig) error {
		if err := validateAddress(addr); err != nil {
			return err
		}
		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares, replacing the defaults
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ReferenceAppOptions {
	return func(cfg *referenceAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStore injects the key-value backend instead of building one from the
// storage configuration. The app takes ownership and closes it on Stop.
func WithStore(store kv.Client) ReferenceAppOptions {
	return func(cfg *referenceAppConfig) error {
		cfg.store = store
		return nil
	}
}

// WithMaxBodyBytes caps request bodies
func WithMaxBodyBytes(n int64) ReferenceAppOptions {
	return func(cfg *referenceAppConfig) error {
		if n <= 0 {
			return fmt.Errorf("max body bytes must be positive, got %d", n)
		}
		cfg.maxBodyBytes = n
		return nil
	}
}

// WithMeterProvider sets the OpenTelemetry meter provider for HTTP and reference metrics
func WithMeterProvider(mp metric.MeterProvider) ReferenceAppOptions {
	return func(cfg *referenceAppConfig) error {
		cfg.meterProvider = mp
		return nil
	}
}

// WithTracerProvider sets the OpenTelemetry tracer provider for request and store spans
func WithTracerProvider(tp trace.TracerProvider) ReferenceAppOptions {
	return func(cfg *referenceAppConfig) error {
		cfg.tracerProvider = tp
		return nil
	}
}

// WithMetricsServer serves handler at /metrics on its own listener. It cannot
// share the API listener because every unmatched GET there is a badge lookup.
func WithMetricsServer(addr string, handler http.Handler) ReferenceAppOptions {
	return func(cfg *referenceAppConfig) error {
		if handler == nil {
			return nil
		}
		if err := validateAddress(addr); err != nil {
			return fmt.Errorf("metrics %w", err)
		}
		cfg.metricsAddress = addr
		cfg.metricsHandler = handler
		return nil
	}
}

func validateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("address is not a valid host:port: %w", err)
	}
	if port == "" {
		return fmt.Errorf("address is not a valid port: %s", addr)
	}
	switch host {
	case "localhost":
		host = "127.0.0.1"
	case "":
		host = "0.0.0.0"
	}

	if _, err := netip.ParseAddrPort(net.JoinHostPort(host, port)); err != nil {
		return fmt.Errorf("address is not a valid port: %w", err)
	}
	return nil
}

// buildHTTPServer builds the API server with router and middleware
func buildHTTPServer(b *referenceAppConfig) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
			api.LoggingMiddleware,
		}
	}

	serverOpts := []api.ServerOption{
		api.WithSetPrefix(b.config.Storage.GetSetPrefix()),
	}
	if b.maxBodyBytes > 0 {
		serverOpts = append(serverOpts, api.WithMaxBodyBytes(b.maxBodyBytes))
	}

	// Metrics wrap everything so requests rejected early are still counted
	if b.meterProvider != nil {
		metricsMiddleware, err := telemetry.MetricsMiddleware(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
		}
		if metricsMiddleware != nil {
			middlewares = append([]func(http.Handler) http.Handler{metricsMiddleware}, middlewares...)
			slog.Info("HTTP metrics middleware enabled")
		}

		referenceMetrics, err := telemetry.NewReferenceMetrics(b.meterProvider)
		if err != nil {
			return nil, fmt.Errorf("failed to create reference metrics: %w", err)
		}
		serverOpts = append(serverOpts, api.WithReferenceMetrics(referenceMetrics))
	}

	// Tracing goes first so metrics and logs see the request span
	if b.tracerProvider != nil {
		middlewares = append([]func(http.Handler) http.Handler{telemetry.TracingMiddleware(b.tracerProvider)},
			middlewares...)
		serverOpts = append(serverOpts, api.WithTracerProvider(b.tracerProvider))
		slog.Info("HTTP tracing middleware enabled")
	}

	serverOpts = append(serverOpts, api.WithMiddlewares(middlewares...))
	router, err := api.NewServer(b.store, serverOpts...)
	if err != nil {
		return nil, err
	}

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}

// buildMetricsServer returns nil when no metrics handler was configured
func buildMetricsServer(b *referenceAppConfig) *http.Server {
	if b.metricsHandler == nil {
		return nil
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", b.metricsHandler)

	slog.Info("Metrics server configured", "address", b.metricsAddress)
	return &http.Server{
		Addr:         b.metricsAddress,
		Handler:      r,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}
}
