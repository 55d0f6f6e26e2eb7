package ratelimit

import (
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/clock"
)

// TokenBucket implements the token bucket rate limiting algorithm.
//
// The bucket allows bursts up to the capacity while maintaining an
// average rate over time. Tokens refill continuously in proportion to
// elapsed time; each request consumes one or more tokens. If not enough
// tokens are available the request is rejected without mutating the
// level.
//
// # Algorithm
//
//  1. Refill level by elapsed_seconds * refill_rate, capped at capacity
//  2. If level >= amount: subtract and allow
//  3. Otherwise: reject, level unchanged
//
// # Thread Safety
//
// TokenBucket is thread-safe using sync.Mutex for all operations, which
// makes refill and consumption linearizable per bucket.
type TokenBucket struct {
	capacity   float64
	level      float64
	refillRate float64 // tokens added per second
	lastRefill time.Time
	clk        clock.Clock
	mu         sync.Mutex
}

// NewTokenBucket creates a token bucket that starts full.
//
// Parameters:
//   - capacity: maximum tokens in the bucket (burst size)
//   - refillRate: tokens added per second (average rate)
//   - clk: time source; pass clock.System outside tests
func NewTokenBucket(capacity float64, refillRate float64, clk clock.Clock) *TokenBucket {
	if clk == nil {
		clk = clock.System
	}
	return &TokenBucket{
		capacity:   capacity,
		level:      capacity,
		refillRate: refillRate,
		lastRefill: clk.Now(),
		clk:        clk,
	}
}

// TryConsume attempts to consume amount tokens. Returns true if the
// tokens were available and consumed, false otherwise. The level is
// refilled from elapsed time before the comparison.
func (tb *TokenBucket) TryConsume(amount float64) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.level >= amount {
		tb.level -= amount
		return true
	}

	return false
}

// Level returns the current token level after refilling.
func (tb *TokenBucket) Level() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()
	return tb.level
}

// Capacity returns the bucket's maximum capacity.
func (tb *TokenBucket) Capacity() float64 {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return tb.capacity
}

// Reset refills the bucket to full capacity.
func (tb *TokenBucket) Reset() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.level = tb.capacity
	tb.lastRefill = tb.clk.Now()
}

// TimeUntilAvailable returns how long until amount tokens will be
// available at the current refill rate. Returns 0 if they already are.
// Used to populate retry-after hints on rejections.
func (tb *TokenBucket) TimeUntilAvailable(amount float64) time.Duration {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked()

	if tb.level >= amount {
		return 0
	}
	if tb.refillRate <= 0 {
		// Never refills; signal the full window.
		return time.Duration(1<<63 - 1)
	}

	needed := amount - tb.level
	seconds := needed / tb.refillRate

	return time.Duration(seconds * float64(time.Second))
}

// refillLocked adds tokens proportional to elapsed time, capped at
// capacity. Caller must hold the lock.
func (tb *TokenBucket) refillLocked() {
	now := tb.clk.Now()
	elapsed := now.Sub(tb.lastRefill)
	if elapsed <= 0 {
		return
	}

	tb.level += elapsed.Seconds() * tb.refillRate
	if tb.level > tb.capacity {
		tb.level = tb.capacity
	}
	tb.lastRefill = now
}
