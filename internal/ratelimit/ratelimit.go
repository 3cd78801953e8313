// Package ratelimit throttles API requests per caller with in-memory token
// buckets.
package ratelimit

import "context"

// Limiter decides whether a request identified by key may proceed. An error
// means the limiter itself failed; callers fail open.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
	Close() error
}

// NoopLimiter permits every request.
type NoopLimiter struct{}

func (NoopLimiter) Allow(context.Context, string) (bool, error) { return true, nil }
func (NoopLimiter) Close() error                                { return nil }
