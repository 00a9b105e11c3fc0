package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

func TestNewTracerProvider_Disabled(t *testing.T) {
	t.Parallel()

	for _, tc := range []*TracingConfig{nil, {Enabled: false, Sampling: 1}} {
		tp, err := NewTracerProvider(context.Background(), WithTracingConfig(tc))
		require.NoError(t, err)
		assert.IsType(t, tracenoop.TracerProvider{}, tp)
	}
}

func TestNewTracerProvider_ExportsSpans(t *testing.T) {
	t.Parallel()

	exporter := tracetest.NewInMemoryExporter()
	tp, err := NewTracerProvider(context.Background(),
		WithTracerServiceName("ociref-test"),
		WithTracingConfig(&TracingConfig{Enabled: true, Sampling: 1}),
		WithSpanExporter(exporter),
	)
	require.NoError(t, err)

	sdkTP, ok := tp.(*sdktrace.TracerProvider)
	require.True(t, ok)
	t.Cleanup(func() { _ = sdkTP.Shutdown(context.Background()) })

	_, span := tp.Tracer("test").Start(context.Background(), "op")
	span.End()
	require.NoError(t, sdkTP.ForceFlush(context.Background()))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "op", spans[0].Name)

	var serviceName string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			serviceName = kv.Value.AsString()
		}
	}
	assert.Equal(t, "ociref-test", serviceName)
}
