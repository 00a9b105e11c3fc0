// Package otel holds span helpers shared by the reference and official packages.
package otel

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Attribute keys used on store spans.
const (
	AttrReferenceName   = attribute.Key("reference.name")
	AttrReferenceSource = attribute.Key("reference.source")
	AttrCategory        = attribute.Key("official.category")
	AttrResultCount     = attribute.Key("result.count")
	AttrFound           = attribute.Key("result.found")
)

// StartSpan starts a new span if the tracer is non-nil, otherwise it returns
// the span already carried by ctx (a no-op span when there is none).
func StartSpan(
	ctx context.Context,
	tracer trace.Tracer,
	name string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	if tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return tracer.Start(ctx, name, opts...)
}

// RecordError records err on span and marks it failed. The status
// description stays generic so connection details never reach span status;
// the full error is kept in the span event.
func RecordError(span trace.Span, err error) {
	if err != nil && span != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "operation failed")
	}
}

// EndSpan records err, if any, and ends span. It is meant for a deferred
// call with a named error result.
func EndSpan(span trace.Span, err error) {
	RecordError(span, err)
	span.End()
}
