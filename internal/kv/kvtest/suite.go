// Package kvtest holds a behavioural test suite shared by every kv.Client backend.
package kvtest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stacklok/ociref-server/internal/kv"
)

// Factory returns a fresh, empty client for a single subtest.
type Factory func(t *testing.T) kv.Client

// RunClientSuite exercises the kv.Client contract against the backend built by newClient.
func RunClientSuite(t *testing.T, newClient Factory) {
	t.Helper()

	t.Run("get missing key reports absence", func(t *testing.T) {
		client := newClient(t)

		value, ok, err := client.Get(context.Background(), "missing")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, value)
	})

	t.Run("set then get returns last write", func(t *testing.T) {
		client := newClient(t)
		ctx := context.Background()

		require.NoError(t, client.Set(ctx, "provider", "registry.example.com/provider:v1"))
		require.NoError(t, client.Set(ctx, "provider", "registry.example.com/provider:v2"))

		value, ok, err := client.Get(ctx, "provider")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "registry.example.com/provider:v2", value)
	})

	t.Run("empty value is still present", func(t *testing.T) {
		client := newClient(t)
		ctx := context.Background()

		require.NoError(t, client.Set(ctx, "blank", ""))

		value, ok, err := client.Get(ctx, "blank")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Empty(t, value)
	})

	t.Run("set add is idempotent", func(t *testing.T) {
		client := newClient(t)
		ctx := context.Background()

		require.NoError(t, client.SetAdd(ctx, "official:capability", "httpserver"))
		require.NoError(t, client.SetAdd(ctx, "official:capability", "httpserver"))
		require.NoError(t, client.SetAdd(ctx, "official:capability", "keyvalue"))

		members, err := client.SetMembers(ctx, "official:capability")
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{"httpserver", "keyvalue"}, members)
	})

	t.Run("set remove of absent member is a no-op", func(t *testing.T) {
		client := newClient(t)
		ctx := context.Background()

		require.NoError(t, client.SetRemove(ctx, "official:never", "ghost"))

		require.NoError(t, client.SetAdd(ctx, "official:capability", "httpserver"))
		require.NoError(t, client.SetRemove(ctx, "official:capability", "ghost"))

		members, err := client.SetMembers(ctx, "official:capability")
		require.NoError(t, err)
		assert.Equal(t, []string{"httpserver"}, members)
	})

	t.Run("set remove drops member", func(t *testing.T) {
		client := newClient(t)
		ctx := context.Background()

		require.NoError(t, client.SetAdd(ctx, "official:capability", "httpserver"))
		require.NoError(t, client.SetRemove(ctx, "official:capability", "httpserver"))

		members, err := client.SetMembers(ctx, "official:capability")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("unknown set is empty", func(t *testing.T) {
		client := newClient(t)

		members, err := client.SetMembers(context.Background(), "official:unknown")
		require.NoError(t, err)
		assert.Empty(t, members)
	})

	t.Run("sets and plain keys do not interfere", func(t *testing.T) {
		client := newClient(t)
		ctx := context.Background()

		require.NoError(t, client.Set(ctx, "httpserver", "registry.example.com/httpserver:0.1.0"))
		require.NoError(t, client.SetAdd(ctx, "official:capability", "httpserver"))

		value, ok, err := client.Get(ctx, "httpserver")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "registry.example.com/httpserver:0.1.0", value)

		members, err := client.SetMembers(ctx, "official:capability")
		require.NoError(t, err)
		assert.Equal(t, []string{"httpserver"}, members)
	})

	t.Run("ping succeeds on open client", func(t *testing.T) {
		client := newClient(t)
		assert.NoError(t, client.Ping(context.Background()))
	})
}
