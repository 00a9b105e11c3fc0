// Package factory builds the kv.Client selected by the storage configuration
// and waits for it to become reachable.
package factory

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/stacklok/ociref-server/internal/config"
	"github.com/stacklok/ociref-server/internal/kv"
	"github.com/stacklok/ociref-server/internal/kv/bolt"
	"github.com/stacklok/ociref-server/internal/kv/memory"
	"github.com/stacklok/ociref-server/internal/kv/postgres"
	"github.com/stacklok/ociref-server/internal/kv/redis"
)

// DefaultPingTimeout bounds how long New waits for the backend at startup.
const DefaultPingTimeout = 30 * time.Second

// Option configures New.
type Option func(*options)

type options struct {
	pingTimeout time.Duration
	newBackOff  func() backoff.BackOff
}

// WithPingTimeout changes how long New keeps retrying the first ping.
func WithPingTimeout(d time.Duration) Option {
	return func(o *options) {
		o.pingTimeout = d
	}
}

// WithBackOff replaces the exponential retry policy of the startup ping.
func WithBackOff(b backoff.BackOff) Option {
	return func(o *options) {
		o.newBackOff = func() backoff.BackOff { return b }
	}
}

// New opens the configured backend and pings it until it answers or the ping
// timeout elapses. The returned client is owned by the caller.
func New(ctx context.Context, cfg *config.StorageConfig, opts ...Option) (kv.Client, error) {
	o := &options{
		pingTimeout: DefaultPingTimeout,
		newBackOff:  func() backoff.BackOff { return backoff.NewExponentialBackOff() },
	}
	for _, opt := range opts {
		opt(o)
	}

	client, err := Open(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := Ping(ctx, client, o.newBackOff(), o.pingTimeout); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%s storage is not reachable: %w", cfg.GetType(), err)
	}

	slog.Info("Storage ready", "type", cfg.GetType())
	return client, nil
}

// Open creates the client for cfg without checking connectivity.
func Open(ctx context.Context, cfg *config.StorageConfig) (kv.Client, error) {
	switch cfg.GetType() {
	case config.StorageTypeMemory:
		return memory.New(), nil

	case config.StorageTypeRedis:
		rc := cfg.Redis
		if rc == nil {
			rc = &config.RedisConfig{}
		}
		password, err := rc.GetPassword()
		if err != nil {
			return nil, err
		}
		return redis.New(
			redis.WithAddress(rc.GetAddress()),
			redis.WithCredentials(rc.Username, password),
			redis.WithDB(rc.DB),
		)

	case config.StorageTypePostgres:
		if cfg.Database == nil {
			return nil, fmt.Errorf("storage.database is required for postgres storage")
		}
		connString, err := cfg.Database.GetConnectionString()
		if err != nil {
			return nil, fmt.Errorf("failed to build connection string: %w", err)
		}
		lifetime, err := cfg.Database.GetConnMaxLifetime()
		if err != nil {
			return nil, fmt.Errorf("invalid connMaxLifetime: %w", err)
		}

		var pgOpts []postgres.Option
		if cfg.Database.MaxOpenConns > 0 {
			pgOpts = append(pgOpts, postgres.WithMaxConns(cfg.Database.MaxOpenConns))
		}
		if lifetime > 0 {
			pgOpts = append(pgOpts, postgres.WithConnMaxLifetime(lifetime))
		}
		return postgres.New(ctx, connString, pgOpts...)

	case config.StorageTypeBolt:
		return bolt.Open(cfg.Bolt.GetPath())

	default:
		return nil, fmt.Errorf("unsupported storage type %q", cfg.GetType())
	}
}

// Ping retries client.Ping with b until it succeeds, ctx is done or timeout
// elapses. Only startup uses this; request paths never retry.
func Ping(ctx context.Context, client kv.Client, b backoff.BackOff, timeout time.Duration) error {
	attempt := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempt++
		return struct{}{}, client.Ping(ctx)
	},
		backoff.WithBackOff(b),
		backoff.WithMaxElapsedTime(timeout),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("Storage ping failed, retrying", "attempt", attempt, "retry_in", next, "error", err)
		}),
	)
	return err
}
