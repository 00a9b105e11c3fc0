// Package api serves the reference registry over HTTP.
package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/ociref-server/internal/api/common"
	"github.com/stacklok/ociref-server/internal/kv"
	"github.com/stacklok/ociref-server/internal/official"
	"github.com/stacklok/ociref-server/internal/reference"
	"github.com/stacklok/ociref-server/internal/telemetry"
	"github.com/stacklok/ociref-server/internal/webhook"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

const storeTracerName = "github.com/stacklok/ociref-server/store"

// ServerOption configures the API server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	setPrefix      string
	tracerProvider trace.TracerProvider
	metrics        *telemetry.ReferenceMetrics
	maxBodyBytes   int64
}

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithSetPrefix sets the key prefix of official category sets.
func WithSetPrefix(prefix string) ServerOption {
	return func(cfg *serverConfig) {
		cfg.setPrefix = prefix
	}
}

// WithTracerProvider traces store and index calls.
func WithTracerProvider(tp trace.TracerProvider) ServerOption {
	return func(cfg *serverConfig) {
		cfg.tracerProvider = tp
	}
}

// WithReferenceMetrics records domain metrics. A nil value disables them.
func WithReferenceMetrics(m *telemetry.ReferenceMetrics) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metrics = m
	}
}

// WithMaxBodyBytes overrides DefaultMaxBodyBytes. Non-positive values are ignored.
func WithMaxBodyBytes(n int64) ServerOption {
	return func(cfg *serverConfig) {
		if n > 0 {
			cfg.maxBodyBytes = n
		}
	}
}

// NewServer creates the HTTP router serving references, official categories,
// registry webhooks and badges out of client.
func NewServer(client kv.Client, opts ...ServerOption) (*chi.Mux, error) {
	cfg := &serverConfig{
		setPrefix:    official.DefaultPrefix,
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	normalizer, err := webhook.NewNormalizer()
	if err != nil {
		return nil, fmt.Errorf("failed to create webhook normalizer: %w", err)
	}

	var tracer trace.Tracer
	if cfg.tracerProvider != nil {
		tracer = cfg.tracerProvider.Tracer(storeTracerName)
	}
	refs := reference.NewStore(client, reference.WithTracer(tracer))
	h := &handlers{
		refs: refs,
		index: official.NewIndex(client, refs,
			official.WithPrefix(cfg.setPrefix),
			official.WithTracer(tracer)),
		normalizer:   normalizer,
		metrics:      cfg.metrics,
		maxBodyBytes: cfg.maxBodyBytes,
	}

	r := chi.NewRouter()
	r.Use(NormalizePath)
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	byRoute := map[Route]http.HandlerFunc{
		RouteStoreReference: h.storeReference,
		RouteAzureHook:      h.azureHook,
		RouteAddOfficial:    h.addOfficial,
		RouteListOfficial:   h.listOfficial,
		RouteRemoveOfficial: h.removeOfficial,
	}
	for _, e := range routeTable {
		r.Method(e.method, "/"+e.path, byRoute[e.route])
	}
	r.Get("/*", h.badge)
	r.NotFound(notFound)
	r.MethodNotAllowed(notFound)

	return r, nil
}

// NormalizePath routes on the request path with leading and trailing
// slashes collapsed, so "/category/" and "category" reach "/category".
func NormalizePath(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			rctx.RoutePath = "/" + strings.Trim(r.URL.Path, "/")
		}
		next.ServeHTTP(w, r)
	})
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", Match(r.Method, r.URL.Path).String(),
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func notFound(w http.ResponseWriter, _ *http.Request) {
	common.WriteEmptyResponse(w, http.StatusNotFound)
}
