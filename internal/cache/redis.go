// Package cache holds the service's Redis state. Insight sets themselves
// live in Postgres; Redis only carries the per-user token buckets that
// throttle forced refreshes and the pub/sub channels on which the
// orchestrator announces finished or failed calculations. Losing Redis
// degrades both features but never the cache itself.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Options tunes the Redis connection pool. Zero fields fall back to
// DefaultOptions.
type Options struct {
	PoolSize    int
	DialTimeout time.Duration
}

// DefaultOptions returns the pool settings used when none are configured.
func DefaultOptions() Options {
	return Options{PoolSize: 10, DialTimeout: 5 * time.Second}
}

// Cache wraps the Redis client shared by the refresh limiter and the
// event notifier.
type Cache struct {
	client *redis.Client
}

// New connects to redisURL and verifies the connection.
func New(ctx context.Context, redisURL string, opts Options) (*Cache, error) {
	opt, err := clientOptions(redisURL, opts)
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}
	return &Cache{client: client}, nil
}

// clientOptions parses redisURL and applies the pool settings. Limiter
// scripts are short, so idle connections are kept few and recycled quickly.
func clientOptions(redisURL string, opts Options) (*redis.Options, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	def := DefaultOptions()
	if opts.PoolSize <= 0 {
		opts.PoolSize = def.PoolSize
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = def.DialTimeout
	}

	opt.PoolSize = opts.PoolSize
	opt.MinIdleConns = min(2, opts.PoolSize)
	opt.DialTimeout = opts.DialTimeout
	opt.PoolTimeout = opts.DialTimeout
	opt.ConnMaxIdleTime = 5 * time.Minute
	return opt, nil
}

// NewFromClient wraps an existing client. The caller keeps ownership of it.
func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

// Ping reports whether Redis answers. Used by the readiness check.
func (c *Cache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (c *Cache) Close() error {
	return c.client.Close()
}
