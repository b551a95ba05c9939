// ratelimit.go implements token-bucket rate limiting for the Bybit v5
// trading endpoints.
//
// Bybit enforces per-UID rate limits on order placement, cancellation, and
// queries (published as requests per second, tier-dependent). This file
// provides a smooth token-bucket implementation that refills continuously
// rather than in fixed windows, so a burst of signals doesn't trip the
// exchange's limiter.
package exchange

import (
	"context"
	"sync"
	"time"
)

// TokenBucket implements a token-bucket rate limiter with continuous refill.
// Callers block in Wait() until a token is available or the context is cancelled.
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64   // current available tokens (fractional allowed)
	capacity float64   // maximum burst size
	rate     float64   // tokens refilled per second
	lastTime time.Time // last time tokens were calculated
}

// NewTokenBucket creates a rate limiter with the given capacity and refill rate.
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{
		tokens:   capacity,
		capacity: capacity,
		rate:     ratePerSecond,
		lastTime: time.Now(),
	}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		// Calculate wait time for next token
		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
			// retry
		}
	}
}

// RateLimiter groups the token buckets guarding Bybit's trading endpoints.
// Every order-mutating or order-querying request calls the relevant
// bucket's Wait() before the HTTP call.
type RateLimiter struct {
	Order  *TokenBucket // POST /v5/order/create
	Cancel *TokenBucket // POST /v5/order/cancel
	Query  *TokenBucket // GET /v5/order/realtime, /v5/order/history, /v5/position/list
}

// NewRateLimiter creates rate limiters tuned to Bybit's standard-tier
// trading limits (10 req/s order placement, 10 req/s cancel, 20 req/s
// query), with capacities sized to absorb a short burst.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		Order:  NewTokenBucket(20, 10),
		Cancel: NewTokenBucket(20, 10),
		Query:  NewTokenBucket(40, 20),
	}
}
