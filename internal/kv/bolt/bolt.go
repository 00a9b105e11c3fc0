// Package bolt provides a single-node kv.Client persisted in a bbolt file.
//
// Values live in the "values" bucket. Every set is a nested bucket under
// "sets" whose keys are the members; a set whose last member is removed is
// deleted so that an empty set and an absent one look the same.
package bolt

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
	bolterrors "go.etcd.io/bbolt/errors"

	"github.com/stacklok/ociref-server/internal/kv"
)

var (
	valuesBucket = []byte("values")
	setsBucket   = []byte("sets")
)

const defaultOpenTimeout = 5 * time.Second

// Client implements kv.Client on a bbolt database.
type Client struct {
	db *bolt.DB
}

var _ kv.Client = (*Client)(nil)

// Open opens (or creates) the database file at path and prepares its buckets.
func Open(path string) (*Client, error) {
	if path == "" {
		return nil, fmt.Errorf("bolt path is required")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("failed to create bolt directory: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: defaultOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt database %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(valuesBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(setsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialise bolt buckets: %w", err)
	}

	return &Client{db: db}, nil
}

// Get implements kv.Client.
func (c *Client) Get(ctx context.Context, key string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	var (
		value string
		found bool
	)
	err := c.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(valuesBucket).Get([]byte(key))
		if raw != nil {
			value = string(raw)
			found = true
		}
		return nil
	})
	if err != nil {
		return "", false, wrap(err)
	}
	return value, found, nil
}

// Set implements kv.Client.
func (c *Client) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return wrap(c.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(valuesBucket).Put([]byte(key), []byte(value))
	}))
}

// SetAdd implements kv.Client.
func (c *Client) SetAdd(ctx context.Context, set, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return wrap(c.db.Update(func(tx *bolt.Tx) error {
		members, err := tx.Bucket(setsBucket).CreateBucketIfNotExists([]byte(set))
		if err != nil {
			return err
		}
		return members.Put([]byte(member), []byte{})
	}))
}

// SetRemove implements kv.Client.
func (c *Client) SetRemove(ctx context.Context, set, member string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return wrap(c.db.Update(func(tx *bolt.Tx) error {
		sets := tx.Bucket(setsBucket)
		members := sets.Bucket([]byte(set))
		if members == nil {
			return nil
		}
		if err := members.Delete([]byte(member)); err != nil {
			return err
		}
		if k, _ := members.Cursor().First(); k == nil {
			return sets.DeleteBucket([]byte(set))
		}
		return nil
	}))
}

// SetMembers implements kv.Client. Members come back in byte order.
func (c *Client) SetMembers(ctx context.Context, set string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result := []string{}
	err := c.db.View(func(tx *bolt.Tx) error {
		members := tx.Bucket(setsBucket).Bucket([]byte(set))
		if members == nil {
			return nil
		}
		return members.ForEach(func(k, _ []byte) error {
			result = append(result, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, wrap(err)
	}
	return result, nil
}

// Ping implements kv.Client.
func (c *Client) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return wrap(c.db.View(func(_ *bolt.Tx) error { return nil }))
}

// Close implements kv.Client.
func (c *Client) Close() error {
	return c.db.Close()
}

// wrap maps bbolt's closed-database error onto kv.ErrClosed.
func wrap(err error) error {
	if errors.Is(err, bolterrors.ErrDatabaseNotOpen) {
		return kv.ErrClosed
	}
	return err
}
