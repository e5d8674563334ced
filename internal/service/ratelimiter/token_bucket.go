// Package ratelimiter bounds the aggregate outbound request rate to the AI
// provider. A single bucket is shared process-wide: every upstream call,
// regardless of which user or feature triggered it, draws from the same
// token supply.
package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a thread-safe token bucket with fractional accrual.
// Tokens refill continuously at RefillRate per second up to Capacity.
type TokenBucket struct {
	mu         sync.Mutex
	capacity   float64
	refillRate float64
	tokens     float64
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket builds a bucket with the given capacity and per-second
// refill rate. The bucket starts full.
func NewTokenBucket(capacity int, refillRate float64) *TokenBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if refillRate <= 0 {
		refillRate = float64(capacity)
	}
	b := &TokenBucket{
		capacity:   float64(capacity),
		refillRate: refillRate,
		tokens:     float64(capacity),
		now:        time.Now,
	}
	b.lastRefill = b.now()
	return b
}

// NewPerSecond builds a bucket admitting at most perSecond requests per
// rolling one-second window.
func NewPerSecond(perSecond int) *TokenBucket {
	return NewTokenBucket(perSecond, float64(perSecond))
}

// SetClock replaces the bucket's time source. Intended for tests.
func (b *TokenBucket) SetClock(now func() time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now = now
	b.lastRefill = now()
}

// refillLocked accrues tokens for the elapsed time. Callers hold b.mu.
func (b *TokenBucket) refillLocked() {
	now := b.now()
	delta := now.Sub(b.lastRefill).Seconds()
	if delta < 0 {
		delta = 0
	}
	b.tokens += delta * b.refillRate
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// Allow attempts to take one token without blocking. When the bucket is
// empty it reports the duration after which one token will have accrued.
func (b *TokenBucket) Allow() (allowed bool, retryAfter time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}
	shortage := 1 - b.tokens
	return false, time.Duration(shortage / b.refillRate * float64(time.Second))
}

// Acquire blocks until a token is available or ctx is done. A cancelled
// waiter consumes no token; concurrent waiters are served as tokens accrue
// with no ordering guarantee between them.
func (b *TokenBucket) Acquire(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		allowed, retryAfter := b.Allow()
		if allowed {
			return nil
		}
		if retryAfter <= 0 {
			retryAfter = time.Millisecond
		}
		t := time.NewTimer(retryAfter)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

// Tokens reports the current token count after refill. Intended for tests
// and metrics.
func (b *TokenBucket) Tokens() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.tokens
}
