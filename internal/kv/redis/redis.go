// Package redis provides a kv.Client backed by a Redis server.
// Plain references map to string keys and official categories to Redis sets.
package redis

import (
	"context"
	"errors"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/stacklok/ociref-server/internal/kv"
)

// options holds configuration for the Redis client
type options struct {
	address  string
	username string
	password string
	db       int
	client   goredis.UniversalClient
}

// Option configures the Redis client
type Option func(*options) error

// WithAddress sets the host:port of the Redis server
func WithAddress(addr string) Option {
	return func(o *options) error {
		if addr == "" {
			return fmt.Errorf("redis address cannot be empty")
		}
		o.address = addr
		return nil
	}
}

// WithCredentials sets the ACL username and password
func WithCredentials(username, password string) Option {
	return func(o *options) error {
		o.username = username
		o.password = password
		return nil
	}
}

// WithDB selects the logical Redis database
func WithDB(db int) Option {
	return func(o *options) error {
		if db < 0 {
			return fmt.Errorf("redis db must not be negative, got %d", db)
		}
		o.db = db
		return nil
	}
}

// WithUniversalClient uses an existing go-redis client instead of dialing one.
// The returned kv.Client takes ownership and closes it on Close.
func WithUniversalClient(c goredis.UniversalClient) Option {
	return func(o *options) error {
		if c == nil {
			return fmt.Errorf("redis client is required")
		}
		o.client = c
		return nil
	}
}

// Client implements kv.Client on top of go-redis.
type Client struct {
	rdb goredis.UniversalClient
}

var _ kv.Client = (*Client)(nil)

// New creates a Redis-backed client. No network round trip happens here;
// use Ping to verify connectivity.
func New(opts ...Option) (*Client, error) {
	o := &options{address: "localhost:6379"}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	rdb := o.client
	if rdb == nil {
		rdb = goredis.NewClient(&goredis.Options{
			Addr:     o.address,
			Username: o.username,
			Password: o.password,
			DB:       o.db,
		})
	}

	return &Client{rdb: rdb}, nil
}

// Get implements kv.Client.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	value, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements kv.Client.
func (c *Client) Set(ctx context.Context, key, value string) error {
	if err := c.rdb.Set(ctx, key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

// SetAdd implements kv.Client.
func (c *Client) SetAdd(ctx context.Context, set, member string) error {
	if err := c.rdb.SAdd(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("redis SADD %q: %w", set, err)
	}
	return nil
}

// SetRemove implements kv.Client.
func (c *Client) SetRemove(ctx context.Context, set, member string) error {
	if err := c.rdb.SRem(ctx, set, member).Err(); err != nil {
		return fmt.Errorf("redis SREM %q: %w", set, err)
	}
	return nil
}

// SetMembers implements kv.Client. Redis returns members in no particular order.
func (c *Client) SetMembers(ctx context.Context, set string) ([]string, error) {
	members, err := c.rdb.SMembers(ctx, set).Result()
	if err != nil {
		return nil, fmt.Errorf("redis SMEMBERS %q: %w", set, err)
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}

// Ping implements kv.Client.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis PING: %w", err)
	}
	return nil
}

// Close implements kv.Client.
func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		if errors.Is(err, goredis.ErrClosed) {
			return kv.ErrClosed
		}
		return err
	}
	return nil
}
