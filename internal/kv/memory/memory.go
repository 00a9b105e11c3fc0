// Package memory provides an in-process kv.Client backed by maps.
// It is the default backend for local runs and the workhorse of unit tests.
package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/stacklok/ociref-server/internal/kv"
)

// Client is a map-backed kv.Client safe for concurrent use.
type Client struct {
	mu     sync.RWMutex
	values map[string]string
	sets   map[string]map[string]struct{}
	closed bool
}

var _ kv.Client = (*Client)(nil)

// New creates an empty in-memory client.
func New() *Client {
	return &Client{
		values: make(map[string]string),
		sets:   make(map[string]map[string]struct{}),
	}
}

// Get implements kv.Client.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return "", false, kv.ErrClosed
	}
	value, ok := c.values[key]
	return value, ok, nil
}

// Set implements kv.Client.
func (c *Client) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return kv.ErrClosed
	}
	c.values[key] = value
	return nil
}

// SetAdd implements kv.Client.
func (c *Client) SetAdd(ctx context.Context, set, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return kv.ErrClosed
	}
	members, ok := c.sets[set]
	if !ok {
		members = make(map[string]struct{})
		c.sets[set] = members
	}
	members[member] = struct{}{}
	return nil
}

// SetRemove implements kv.Client. A set left empty is dropped entirely.
func (c *Client) SetRemove(ctx context.Context, set, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return kv.ErrClosed
	}
	members, ok := c.sets[set]
	if !ok {
		return nil
	}
	delete(members, member)
	if len(members) == 0 {
		delete(c.sets, set)
	}
	return nil
}

// SetMembers implements kv.Client. Members are returned sorted.
func (c *Client) SetMembers(ctx context.Context, set string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return nil, kv.ErrClosed
	}
	members := make([]string, 0, len(c.sets[set]))
	for member := range c.sets[set] {
		members = append(members, member)
	}
	slices.Sort(members)
	return members, nil
}

// Ping implements kv.Client.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.closed {
		return kv.ErrClosed
	}
	return nil
}

// Close implements kv.Client.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
