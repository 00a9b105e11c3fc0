// Package official maintains curated categories of provider names and
// resolves them against stored references.
package official

import (
	"context"
	"fmt"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/ociref-server/internal/kv"
	"github.com/stacklok/ociref-server/internal/otel"
	"github.com/stacklok/ociref-server/internal/reference"
)

// DefaultPrefix namespaces category sets away from reference keys.
const DefaultPrefix = "official"

// Resolver looks up the url stored for a provider name. *reference.Store
// satisfies it.
type Resolver interface {
	Get(ctx context.Context, name string) (string, bool, error)
}

// Option configures an Index.
type Option func(*Index)

// WithPrefix changes the namespace of category set keys.
func WithPrefix(prefix string) Option {
	return func(i *Index) {
		if prefix != "" {
			i.prefix = prefix
		}
	}
}

// WithTracer traces every index call with tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(i *Index) {
		i.tracer = tracer
	}
}

// Index stores one set of names per category.
//
// List is a best-effort join: it reads the members and then resolves each
// one separately, so concurrent Add, Remove or reference writes may or may
// not be visible in a single listing. The substrate offers no transaction to
// do better.
type Index struct {
	client   kv.Client
	resolver Resolver
	prefix   string
	tracer   trace.Tracer
}

// NewIndex returns an Index storing sets in client and resolving members
// through resolver.
func NewIndex(client kv.Client, resolver Resolver, opts ...Option) *Index {
	i := &Index{
		client:   client,
		resolver: resolver,
		prefix:   DefaultPrefix,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// SetKey returns the key of the set holding category's members.
func (i *Index) SetKey(category string) string {
	return i.prefix + ":" + category
}

// Add puts name in category. Adding a name twice is a no-op.
func (i *Index) Add(ctx context.Context, category, name string) (err error) {
	ctx, span := i.startSpan(ctx, "official.Add", category,
		otel.AttrReferenceName.String(name))
	defer func() { otel.EndSpan(span, err) }()

	if err := i.client.SetAdd(ctx, i.SetKey(category), name); err != nil {
		return fmt.Errorf("failed to add %q to category %q: %w", name, category, err)
	}
	return nil
}

// Remove takes name out of category. Removing an absent name is a no-op.
func (i *Index) Remove(ctx context.Context, category, name string) (err error) {
	ctx, span := i.startSpan(ctx, "official.Remove", category,
		otel.AttrReferenceName.String(name))
	defer func() { otel.EndSpan(span, err) }()

	if err := i.client.SetRemove(ctx, i.SetKey(category), name); err != nil {
		return fmt.Errorf("failed to remove %q from category %q: %w", name, category, err)
	}
	return nil
}

// List returns the members of category that have a stored reference,
// sorted by name. Members without a reference are left out. An unknown
// category yields an empty, non-nil slice.
func (i *Index) List(ctx context.Context, category string) (entries []reference.Reference, err error) {
	ctx, span := i.startSpan(ctx, "official.List", category)
	defer func() {
		span.SetAttributes(otel.AttrResultCount.Int(len(entries)))
		otel.EndSpan(span, err)
	}()

	members, err := i.client.SetMembers(ctx, i.SetKey(category))
	if err != nil {
		return nil, fmt.Errorf("failed to list category %q: %w", category, err)
	}

	entries = make([]reference.Reference, 0, len(members))
	for _, name := range members {
		url, found, err := i.resolver.Get(ctx, name)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve %q in category %q: %w", name, category, err)
		}
		if !found {
			continue
		}
		entries = append(entries, reference.Reference{Name: name, URL: url})
	}

	sort.Slice(entries, func(a, b int) bool { return entries[a].Name < entries[b].Name })
	return entries, nil
}

func (i *Index) startSpan(
	ctx context.Context, name, category string, attrs ...attribute.KeyValue,
) (context.Context, trace.Span) {
	attrs = append(attrs, otel.AttrCategory.String(category))
	return otel.StartSpan(ctx, i.tracer, name, trace.WithAttributes(attrs...))
}
