// Package redis implements the domain bus, lock, rate limit and book cache
// interfaces on go-redis/v9.
package redis

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultStreamMaxLen caps streams when no limit is configured.
const DefaultStreamMaxLen int64 = 10000

// ClientConfig holds connection parameters for the Redis client.
type ClientConfig struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MaxRetries   int
	TLSEnabled   bool
	StreamMaxLen int64
}

// Client wraps a go-redis Client and provides connectivity helpers.
type Client struct {
	rdb          *redis.Client
	streamMaxLen int64
}

// New creates a Redis Client and pings it. It returns an error if the
// server cannot be reached.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	opts := &redis.Options{
		Addr:       cfg.Addr,
		Password:   cfg.Password,
		DB:         cfg.DB,
		PoolSize:   cfg.PoolSize,
		MaxRetries: cfg.MaxRetries,
	}
	if cfg.TLSEnabled {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	c := Wrap(redis.NewClient(opts), cfg.StreamMaxLen)
	if err := c.Ping(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// Wrap adopts an existing go-redis client. A non-positive streamMaxLen uses
// DefaultStreamMaxLen.
func Wrap(rdb *redis.Client, streamMaxLen int64) *Client {
	if streamMaxLen <= 0 {
		streamMaxLen = DefaultStreamMaxLen
	}
	return &Client{rdb: rdb, streamMaxLen: streamMaxLen}
}

// Ping checks the Redis connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: ping: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Underlying returns the raw *redis.Client.
func (c *Client) Underlying() *redis.Client {
	return c.rdb
}
