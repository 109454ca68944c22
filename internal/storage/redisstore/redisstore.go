// Package redisstore provides the shared-store connection using go-redis v9.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fnfo/chat/internal/config"
)

// Client wraps a Redis client with health-check and lifecycle methods.
// All room metadata, message streams, membership sets, rate counters,
// and pub/sub channels live behind this client.
type Client struct {
	rdb *redis.Client
}

// NewClient connects to Redis using the given configuration.
//
// Precondition: cfg must contain a valid address.
// Postcondition: Returns a connected Client or a non-nil error. The client
// has answered a ping upon successful return.
func NewClient(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Health checks that the store is reachable within the given timeout.
//
// Postcondition: Returns nil if the store responds within the timeout.
func (c *Client) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// Close releases the connection.
//
// Postcondition: The client is no longer usable after calling Close.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Redis returns the underlying client for use by the store-backed components.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}
