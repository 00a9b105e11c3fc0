package telemetry

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// ReferenceMetricsMeterName is the name used for the reference metrics meter
const ReferenceMetricsMeterName = "github.com/stacklok/ociref-server/reference"

// Reference write sources
const (
	SourceAPI     = "api"
	SourceWebhook = "azurehook"
)

// Badge lookup results
const (
	BadgeFound    = "found"
	BadgeFallback = "fallback"
)

// ReferenceMetrics holds the domain instruments for stored references,
// badge lookups and official listings.
type ReferenceMetrics struct {
	referencesStored metric.Int64Counter
	badgeLookups     metric.Int64Counter
	officialListSize metric.Int64Histogram
}

// NewReferenceMetrics creates the domain instruments.
// If provider is nil, it returns nil (no-op metrics).
func NewReferenceMetrics(provider metric.MeterProvider) (*ReferenceMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(ReferenceMetricsMeterName)

	referencesStored, err := meter.Int64Counter(
		"ociref_references_stored_total",
		metric.WithDescription("Number of references written, by source"),
		metric.WithUnit("{reference}"),
	)
	if err != nil {
		return nil, err
	}

	badgeLookups, err := meter.Int64Counter(
		"ociref_badge_lookups_total",
		metric.WithDescription("Number of badge lookups, by result"),
		metric.WithUnit("{lookup}"),
	)
	if err != nil {
		return nil, err
	}

	officialListSize, err := meter.Int64Histogram(
		"ociref_official_list_size",
		metric.WithDescription("Number of resolved entries returned by an official category listing"),
		metric.WithUnit("{entry}"),
		metric.WithExplicitBucketBoundaries(0, 1, 5, 10, 25, 50, 100, 250),
	)
	if err != nil {
		return nil, err
	}

	return &ReferenceMetrics{
		referencesStored: referencesStored,
		badgeLookups:     badgeLookups,
		officialListSize: officialListSize,
	}, nil
}

// RecordReferenceStored counts a successful reference write from source
func (m *ReferenceMetrics) RecordReferenceStored(ctx context.Context, source string) {
	if m == nil {
		return
	}
	m.referencesStored.Add(ctx, 1, metric.WithAttributes(attribute.String("source", source)))
}

// RecordBadgeLookup counts a badge lookup with result found or fallback
func (m *ReferenceMetrics) RecordBadgeLookup(ctx context.Context, result string) {
	if m == nil {
		return
	}
	m.badgeLookups.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordOfficialListSize records how many entries a listing returned
func (m *ReferenceMetrics) RecordOfficialListSize(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.officialListSize.Record(ctx, int64(size))
}
