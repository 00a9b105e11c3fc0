// Package kv defines the key-value capability the registry core is built on.
// Backends live in sub-packages; the core only ever sees the Client interface.
package kv

import (
	"context"
	"errors"
)

// ErrClosed is returned by backends once Close has been called.
var ErrClosed = errors.New("key-value client is closed")

//go:generate mockgen -destination=mocks/mock_kv.go -package=mocks -source=kv.go Client

// Client is an opaque string-keyed store with plain values and named sets.
// Plain keys and set keys share a single keyspace on some backends, so
// callers are expected to namespace set keys themselves.
type Client interface {
	// Get returns the value stored under key. The boolean is false when the
	// key does not exist; that case is not an error.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error

	// SetAdd adds member to the named set. Adding an existing member is a no-op.
	SetAdd(ctx context.Context, set, member string) error

	// SetRemove removes member from the named set. Removing an absent member is a no-op.
	SetRemove(ctx context.Context, set, member string) error

	// SetMembers returns the members of the named set in backend-defined order.
	// An unknown set yields an empty slice.
	SetMembers(ctx context.Context, set string) ([]string, error)

	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}
