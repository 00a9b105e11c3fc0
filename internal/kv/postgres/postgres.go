// Package postgres provides a kv.Client stored in two PostgreSQL tables.
// The schema is owned by the database package migrations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stacklok/ociref-server/internal/kv"
)

const (
	getValueSQL = `SELECT value FROM kv_values WHERE key = $1`

	upsertValueSQL = `INSERT INTO kv_values (key, value) VALUES ($1, $2)
ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`

	addMemberSQL = `INSERT INTO kv_set_members (set_key, member) VALUES ($1, $2)
ON CONFLICT (set_key, member) DO NOTHING`

	removeMemberSQL = `DELETE FROM kv_set_members WHERE set_key = $1 AND member = $2`

	listMembersSQL = `SELECT member FROM kv_set_members WHERE set_key = $1 ORDER BY member`
)

const (
	defaultMaxConns        = 10
	defaultConnMaxLifetime = 5 * time.Minute
)

// options holds pool settings for the postgres client
type options struct {
	maxConns        int32
	connMaxLifetime time.Duration
	pool            *pgxpool.Pool
}

// Option configures the postgres client
type Option func(*options) error

// WithMaxConns caps the size of the connection pool
func WithMaxConns(n int32) Option {
	return func(o *options) error {
		if n <= 0 {
			return fmt.Errorf("max connections must be greater than zero, got %d", n)
		}
		o.maxConns = n
		return nil
	}
}

// WithConnMaxLifetime sets how long a pooled connection may be reused
func WithConnMaxLifetime(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("connection max lifetime must be positive, got %s", d)
		}
		o.connMaxLifetime = d
		return nil
	}
}

// WithConnectionPool uses an existing pool. The client takes ownership and
// closes the pool on Close.
func WithConnectionPool(pool *pgxpool.Pool) Option {
	return func(o *options) error {
		if pool == nil {
			return fmt.Errorf("pgx pool is required")
		}
		o.pool = pool
		return nil
	}
}

// Client implements kv.Client with pgx.
type Client struct {
	pool *pgxpool.Pool
}

var _ kv.Client = (*Client)(nil)

// New creates a pooled postgres client for connString. The connection string
// is ignored when WithConnectionPool is given.
func New(ctx context.Context, connString string, opts ...Option) (*Client, error) {
	o := &options{
		maxConns:        defaultMaxConns,
		connMaxLifetime: defaultConnMaxLifetime,
	}
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, err
		}
	}

	if o.pool != nil {
		return &Client{pool: o.pool}, nil
	}

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	poolCfg.MaxConns = o.maxConns
	poolCfg.MaxConnLifetime = o.connMaxLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	slog.Info("Postgres connection pool created",
		"host", poolCfg.ConnConfig.Host,
		"database", poolCfg.ConnConfig.Database,
		"max_conns", o.maxConns,
	)

	return &Client{pool: pool}, nil
}

// Get implements kv.Client.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := c.pool.QueryRow(ctx, getValueSQL, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, true, nil
}

// Set implements kv.Client.
func (c *Client) Set(ctx context.Context, key, value string) error {
	if _, err := c.pool.Exec(ctx, upsertValueSQL, key, value); err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

// SetAdd implements kv.Client.
func (c *Client) SetAdd(ctx context.Context, set, member string) error {
	if _, err := c.pool.Exec(ctx, addMemberSQL, set, member); err != nil {
		return fmt.Errorf("failed to add member to set %q: %w", set, err)
	}
	return nil
}

// SetRemove implements kv.Client.
func (c *Client) SetRemove(ctx context.Context, set, member string) error {
	if _, err := c.pool.Exec(ctx, removeMemberSQL, set, member); err != nil {
		return fmt.Errorf("failed to remove member from set %q: %w", set, err)
	}
	return nil
}

// SetMembers implements kv.Client. Members are ordered by name.
func (c *Client) SetMembers(ctx context.Context, set string) ([]string, error) {
	rows, err := c.pool.Query(ctx, listMembersSQL, set)
	if err != nil {
		return nil, fmt.Errorf("failed to list set %q: %w", set, err)
	}

	members, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan set %q: %w", set, err)
	}
	if members == nil {
		members = []string{}
	}
	return members, nil
}

// Ping implements kv.Client.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close implements kv.Client.
func (c *Client) Close() error {
	slog.Info("Closing postgres connection pool")
	c.pool.Close()
	return nil
}
