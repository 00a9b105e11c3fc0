package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/ociref-server/internal/config"
	"github.com/stacklok/ociref-server/internal/kv/memory"
	"github.com/stacklok/ociref-server/internal/kv/mocks"
)

func TestBaseConfig_Defaults(t *testing.T) {
	t.Parallel()

	built, err := baseConfig()
	require.NoError(t, err)
	require.NotNil(t, built.config)
	assert.Equal(t, config.DefaultAddress, built.address)
	assert.Equal(t, defaultRequestTimeout, built.requestTimeout)
	assert.Nil(t, built.middlewares)
}

func TestBaseConfig_AddressFromConfig(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Address = "127.0.0.1:9191"

	built, err := baseConfig(WithConfig(cfg))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9191", built.address)

	built, err = baseConfig(WithConfig(cfg), WithAddress(":9090"))
	require.NoError(t, err)
	assert.Equal(t, ":9090", built.address)
}

func TestWithAddress(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		addr    string
		wantErr bool
	}{
		{name: "port only", addr: ":9090"},
		{name: "localhost", addr: "localhost:8080"},
		{name: "ipv4", addr: "127.0.0.1:0"},
		{name: "ipv6", addr: "[::1]:8080"},
		{name: "empty", addr: "", wantErr: true},
		{name: "colon only", addr: ":", wantErr: true},
		{name: "missing port", addr: "127.0.0.1", wantErr: true},
		{name: "port out of range", addr: ":70000", wantErr: true},
		{name: "hostname", addr: "example.com:80", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			built, err := baseConfig(WithAddress(tt.addr))
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, built)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.addr, built.address)
		})
	}
}

func TestWithMaxBodyBytes(t *testing.T) {
	t.Parallel()

	built, err := baseConfig(WithMaxBodyBytes(512))
	require.NoError(t, err)
	assert.Equal(t, int64(512), built.maxBodyBytes)

	_, err = baseConfig(WithMaxBodyBytes(0))
	require.Error(t, err)
}

func TestWithMetricsServer(t *testing.T) {
	t.Parallel()

	handler := http.NotFoundHandler()

	built, err := baseConfig(WithMetricsServer(":9464", handler))
	require.NoError(t, err)
	assert.Equal(t, ":9464", built.metricsAddress)
	assert.NotNil(t, built.metricsHandler)

	built, err = baseConfig(WithMetricsServer("", nil))
	require.NoError(t, err)
	assert.Nil(t, built.metricsHandler)

	_, err = baseConfig(WithMetricsServer("nope", handler))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics address")
}

func TestBuildHTTPServer(t *testing.T) {
	t.Parallel()

	cfg := config.Default()
	cfg.Storage.SetPrefix = "curated"

	store := memory.New()
	built, err := baseConfig(WithConfig(cfg), WithStore(store), WithAddress("127.0.0.1:0"))
	require.NoError(t, err)

	server, err := buildHTTPServer(built)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:0", server.Addr)
	assert.Equal(t, defaultReadTimeout, server.ReadTimeout)
	assert.Equal(t, defaultWriteTimeout, server.WriteTimeout)
	assert.Equal(t, defaultIdleTimeout, server.IdleTimeout)

	req := httptest.NewRequest(http.MethodPost, "/category", strings.NewReader(`{"category":"c","name":"x"}`))
	rr := httptest.NewRecorder()
	server.Handler.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	members, err := store.SetMembers(context.Background(), "curated:c")
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, members)
}

func TestBuildHTTPServer_CustomMiddlewares(t *testing.T) {
	t.Parallel()

	called := false
	mw := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			called = true
			next.ServeHTTP(w, r)
		})
	}

	built, err := baseConfig(WithStore(memory.New()), WithMiddlewares(mw))
	require.NoError(t, err)

	server, err := buildHTTPServer(built)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/foo", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, called)
}

func TestBuildHTTPServer_Telemetry(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		_ = tp.Shutdown(context.Background())
	})

	built, err := baseConfig(
		WithStore(memory.New()),
		WithMeterProvider(mp),
		WithTracerProvider(tp),
	)
	require.NoError(t, err)

	server, err := buildHTTPServer(built)
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/reference",
		strings.NewReader(`{"name":"foo","url":"http://u"}`)))
	require.Equal(t, http.StatusOK, rr.Code)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	var names []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			names = append(names, m.Name)
		}
	}
	assert.Contains(t, names, "ociref_http_requests_total")
	assert.Contains(t, names, "ociref_references_stored_total")

	var spanNames []string
	for _, s := range exporter.GetSpans() {
		spanNames = append(spanNames, s.Name)
	}
	assert.Contains(t, spanNames, "reference.Put")
	assert.Contains(t, spanNames, "POST /api/reference")
}

func TestBuildMetricsServer(t *testing.T) {
	t.Parallel()

	built, err := baseConfig()
	require.NoError(t, err)
	assert.Nil(t, buildMetricsServer(built))

	scrape := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ociref_up 1\n"))
	})
	built, err = baseConfig(WithMetricsServer("127.0.0.1:0", scrape))
	require.NoError(t, err)

	server := buildMetricsServer(built)
	require.NotNil(t, server)
	assert.Equal(t, "127.0.0.1:0", server.Addr)

	rr := httptest.NewRecorder()
	server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ociref_up 1\n", rr.Body.String())

	rr = httptest.NewRecorder()
	server.Handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/foo", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestNewReferenceApp(t *testing.T) {
	t.Parallel()

	t.Run("default memory store", func(t *testing.T) {
		t.Parallel()

		app, err := NewReferenceApp(context.Background(), WithAddress("127.0.0.1:0"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = app.Stop(time.Second) })

		require.NotNil(t, app.components.Store)
		assert.IsType(t, &memory.Client{}, app.components.Store)
		assert.Nil(t, app.GetMetricsServer())
	})

	t.Run("invalid storage type", func(t *testing.T) {
		t.Parallel()

		cfg := config.Default()
		cfg.Storage.Type = "etcd"

		_, err := NewReferenceApp(context.Background(), WithConfig(cfg))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to create store")
	})

	t.Run("invalid option", func(t *testing.T) {
		t.Parallel()

		ctrl := gomock.NewController(t)
		t.Cleanup(ctrl.Finish)

		// The injected store is never touched when options fail.
		_, err := NewReferenceApp(context.Background(),
			WithStore(mocks.NewMockClient(ctrl)), WithAddress(""))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to build base configuration")
	})
}
