// Package ratelimit provides a per-identity fixed-window send limiter
// backed by the shared store.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rate:chat:"

// Limiter counts sends per identity within a fixed window.
//
// This is an approximate fixed-window limiter: bursts straddling a
// window boundary can admit up to twice the nominal rate. That is an
// accepted trade-off for a single-round-trip check.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
}

// NewLimiter creates a Limiter with the given ceiling and window.
//
// Precondition: rdb must be non-nil; limit must be >= 1; window must be positive.
func NewLimiter(rdb *redis.Client, limit int, window time.Duration) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window}
}

// Allow increments the identity's window counter and reports whether the
// post-increment count is within the ceiling. The window expiry is set
// only by the increment that creates the counter (EXPIRE NX), never
// refreshed afterwards, so the window resets by expiry alone.
//
// Precondition: identityID must be non-empty.
// Postcondition: Returns (true, nil) when the send is admitted.
func (l *Limiter) Allow(ctx context.Context, identityID string) (bool, error) {
	key := keyPrefix + identityID

	pipe := l.rdb.Pipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, l.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("incrementing rate counter for %s: %w", identityID, err)
	}

	return incr.Val() <= int64(l.limit), nil
}

// Limit returns the configured per-window ceiling.
func (l *Limiter) Limit() int {
	return l.limit
}
