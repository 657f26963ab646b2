// Package redisstore wraps the Redis operations used by the workspace cache.
// Every key is namespaced with a prefix so several services can share one
// Redis.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	"github.com/mohammed-shakir/biq-mapview/internal/core/observability"
)

const DefaultPrefix = "mapview:"

type settings struct {
	ro     redis.Options
	prefix string
}

type Option func(*settings)

func WithPoolSize(n int) Option {
	return func(s *settings) { s.ro.PoolSize = n }
}

func WithTimeouts(dial, rw time.Duration) Option {
	return func(s *settings) {
		s.ro.DialTimeout = dial
		s.ro.ReadTimeout = rw
		s.ro.WriteTimeout = rw
	}
}

func WithDB(db int) Option {
	return func(s *settings) { s.ro.DB = db }
}

// WithKeyPrefix replaces DefaultPrefix. An empty prefix disables namespacing.
func WithKeyPrefix(p string) Option {
	return func(s *settings) { s.prefix = p }
}

type Client struct {
	rdb    *redis.Client
	prefix string
}

func (c *Client) key(k string) string { return c.prefix + k }

func New(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}

	st := settings{
		ro: redis.Options{
			Addr:         addr,
			PoolSize:     16,
			MinIdleConns: 2,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  1 * time.Second,
			WriteTimeout: 1 * time.Second,
			MaintNotificationsConfig: &maintnotifications.Config{
				Mode: maintnotifications.ModeDisabled,
			},
		},
		prefix: DefaultPrefix,
	}
	for _, f := range opts {
		f(&st)
	}

	rdb := redis.NewClient(&st.ro)

	err := rdb.Ping(ctx).Err()
	observability.ObserveCacheOp("ping", err)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Client{rdb: rdb, prefix: st.prefix}, nil
}

// Get returns the value for key; found is false for a missing key.
func (c *Client) Get(ctx context.Context, key string) (val []byte, found bool, err error) {
	b, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.IncCacheResult(false)
		return nil, false, nil
	}
	if err != nil {
		observability.ObserveCacheOp("get", err)
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	observability.IncCacheResult(true)
	return b, true, nil
}

func (c *Client) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	err := c.rdb.Set(ctx, c.key(key), val, ttl).Err()
	observability.ObserveCacheOp("set", err)
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Client) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = c.key(k)
	}
	err := c.rdb.Del(ctx, full...).Err()
	observability.ObserveCacheOp("del", err)
	if err != nil {
		return fmt.Errorf("redis DEL %d keys: %w", len(keys), err)
	}
	return nil
}

// Ping is used by readiness checks.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
