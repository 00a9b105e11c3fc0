package official

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/stacklok/ociref-server/internal/kv/memory"
	"github.com/stacklok/ociref-server/internal/kv/mocks"
	"github.com/stacklok/ociref-server/internal/reference"
)

func newIndex(t *testing.T, opts ...Option) (*Index, *reference.Store) {
	t.Helper()
	client := memory.New()
	t.Cleanup(func() { _ = client.Close() })
	refs := reference.NewStore(client)
	return NewIndex(client, refs, opts...), refs
}

func TestIndex_SetKey(t *testing.T) {
	t.Parallel()

	idx, _ := newIndex(t)
	assert.Equal(t, "official:capability", idx.SetKey("capability"))

	idx, _ = newIndex(t, WithPrefix("curated"))
	assert.Equal(t, "curated:capability", idx.SetKey("capability"))

	idx, _ = newIndex(t, WithPrefix(""))
	assert.Equal(t, "official:capability", idx.SetKey("capability"))
}

func TestIndex_AddIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	client := memory.New()
	idx := NewIndex(client, reference.NewStore(client))

	require.NoError(t, idx.Add(ctx, "cap", "x"))
	require.NoError(t, idx.Add(ctx, "cap", "x"))

	members, err := client.SetMembers(ctx, idx.SetKey("cap"))
	require.NoError(t, err)
	assert.Equal(t, []string{"x"}, members)
}

func TestIndex_RemoveAbsentIsNoop(t *testing.T) {
	t.Parallel()

	idx, _ := newIndex(t)
	assert.NoError(t, idx.Remove(context.Background(), "cap", "never-added"))
}

func TestIndex_List(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx, refs := newIndex(t)

	entries, err := idx.List(ctx, "unknown")
	require.NoError(t, err)
	require.NotNil(t, entries)
	assert.Empty(t, entries)

	require.NoError(t, refs.Put(ctx, "x", "http://u"))
	require.NoError(t, refs.Put(ctx, "a", "http://a"))
	require.NoError(t, idx.Add(ctx, "cap", "x"))
	require.NoError(t, idx.Add(ctx, "cap", "y"))
	require.NoError(t, idx.Add(ctx, "cap", "a"))
	require.NoError(t, idx.Add(ctx, "other", "x"))

	entries, err = idx.List(ctx, "cap")
	require.NoError(t, err)
	assert.Equal(t, []reference.Reference{
		{Name: "a", URL: "http://a"},
		{Name: "x", URL: "http://u"},
	}, entries)

	require.NoError(t, idx.Remove(ctx, "cap", "x"))
	entries, err = idx.List(ctx, "cap")
	require.NoError(t, err)
	assert.Equal(t, []reference.Reference{{Name: "a", URL: "http://a"}}, entries)

	// Removing from one category leaves the others alone.
	entries, err = idx.List(ctx, "other")
	require.NoError(t, err)
	assert.Equal(t, []reference.Reference{{Name: "x", URL: "http://u"}}, entries)
}

func TestIndex_SetsDoNotShadowReferences(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	idx, refs := newIndex(t)

	require.NoError(t, refs.Put(ctx, "cap", "http://cap"))
	require.NoError(t, idx.Add(ctx, "cap", "cap"))

	url, found, err := refs.Get(ctx, "cap")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "http://cap", url)
}

func TestIndex_Errors(t *testing.T) {
	t.Parallel()

	backendErr := errors.New("READONLY replica")

	tests := []struct {
		name  string
		setup func(c *mocks.MockClient)
		call  func(idx *Index) error
	}{
		{
			name: "add",
			setup: func(c *mocks.MockClient) {
				c.EXPECT().SetAdd(gomock.Any(), "official:cap", "x").Return(backendErr)
			},
			call: func(idx *Index) error { return idx.Add(context.Background(), "cap", "x") },
		},
		{
			name: "remove",
			setup: func(c *mocks.MockClient) {
				c.EXPECT().SetRemove(gomock.Any(), "official:cap", "x").Return(backendErr)
			},
			call: func(idx *Index) error { return idx.Remove(context.Background(), "cap", "x") },
		},
		{
			name: "list members",
			setup: func(c *mocks.MockClient) {
				c.EXPECT().SetMembers(gomock.Any(), "official:cap").Return(nil, backendErr)
			},
			call: func(idx *Index) error {
				_, err := idx.List(context.Background(), "cap")
				return err
			},
		},
		{
			name: "resolve member",
			setup: func(c *mocks.MockClient) {
				c.EXPECT().SetMembers(gomock.Any(), "official:cap").Return([]string{"x", "y"}, nil)
				c.EXPECT().Get(gomock.Any(), "x").Return("", false, backendErr)
			},
			call: func(idx *Index) error {
				_, err := idx.List(context.Background(), "cap")
				return err
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctrl := gomock.NewController(t)
			client := mocks.NewMockClient(ctrl)
			tt.setup(client)

			idx := NewIndex(client, reference.NewStore(client))
			assert.ErrorIs(t, tt.call(idx), backendErr)
		})
	}
}
