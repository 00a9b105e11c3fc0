// Package reference stores the canonical name to location mapping of
// published providers on top of a kv.Client.
package reference

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/ociref-server/internal/kv"
	"github.com/stacklok/ociref-server/internal/otel"
)

// ErrInvalidReference is returned by Validate for references missing a field.
var ErrInvalidReference = errors.New("invalid reference")

// Reference is a provider name and the location it was last published to.
type Reference struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Validate reports whether both name and url are set.
func (r Reference) Validate() error {
	switch {
	case r.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidReference)
	case r.URL == "":
		return fmt.Errorf("%w: url is required", ErrInvalidReference)
	}
	return nil
}

// Option configures a Store.
type Option func(*Store)

// WithTracer traces every store call with tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Store) {
		s.tracer = tracer
	}
}

// Store reads and writes references. Each reference is one plain key whose
// value is the url. Writes are unconditional, so concurrent writers to the
// same name race and the last one wins.
type Store struct {
	client kv.Client
	tracer trace.Tracer
}

// NewStore returns a Store backed by client.
func NewStore(client kv.Client, opts ...Option) *Store {
	s := &Store{client: client}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Put stores url under name, replacing any earlier value.
func (s *Store) Put(ctx context.Context, name, url string) (err error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "reference.Put",
		trace.WithAttributes(otel.AttrReferenceName.String(name)))
	defer func() { otel.EndSpan(span, err) }()

	if err := s.client.Set(ctx, name, url); err != nil {
		return fmt.Errorf("failed to store reference %q: %w", name, err)
	}
	return nil
}

// Get returns the url stored for name. The boolean is false when nothing has
// been stored for name.
func (s *Store) Get(ctx context.Context, name string) (url string, found bool, err error) {
	ctx, span := otel.StartSpan(ctx, s.tracer, "reference.Get",
		trace.WithAttributes(otel.AttrReferenceName.String(name)))
	defer func() {
		span.SetAttributes(otel.AttrFound.Bool(found))
		otel.EndSpan(span, err)
	}()

	url, found, err = s.client.Get(ctx, name)
	if err != nil {
		return "", false, fmt.Errorf("failed to read reference %q: %w", name, err)
	}
	return url, found, nil
}
