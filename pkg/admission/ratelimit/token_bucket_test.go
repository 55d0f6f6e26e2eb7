package ratelimit

import (
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/clock"
)

// ============================================================================
// Token Bucket Tests
// ============================================================================

func TestTokenBucket_Basic(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bucket := NewTokenBucket(10, 10, clk)

	if !bucket.TryConsume(5) {
		t.Error("Expected to consume 5 tokens from full bucket")
	}
	if got := bucket.Level(); got != 5 {
		t.Errorf("Expected level 5, got %v", got)
	}
	if !bucket.TryConsume(5) {
		t.Error("Expected to consume remaining 5 tokens")
	}
	if bucket.TryConsume(1) {
		t.Error("Expected empty bucket to reject")
	}
}

func TestTokenBucket_RejectDoesNotMutate(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bucket := NewTokenBucket(10, 1, clk)

	bucket.TryConsume(8)
	before := bucket.Level()

	if bucket.TryConsume(5) {
		t.Error("Expected rejection with only 2 tokens left")
	}
	if got := bucket.Level(); got != before {
		t.Errorf("Rejection mutated level: %v -> %v", before, got)
	}
}

func TestTokenBucket_RefillCorrectness(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bucket := NewTokenBucket(10, 2, clk) // capacity/rate = 5 seconds to refill

	if !bucket.TryConsume(10) {
		t.Fatal("Expected to drain bucket")
	}

	clk.Advance(5 * time.Second)

	if diff := math.Abs(bucket.Level() - 10); diff > 1e-9 {
		t.Errorf("Expected full refill after capacity/rate seconds, level=%v", bucket.Level())
	}
}

func TestTokenBucket_RefillNeverExceedsCapacity(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bucket := NewTokenBucket(10, 10, clk)

	clk.Advance(time.Hour)

	if got := bucket.Level(); got > 10 {
		t.Errorf("Level exceeded capacity: %v", got)
	}
}

func TestTokenBucket_PartialRefill(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bucket := NewTokenBucket(60, 1, clk) // 1 token/sec

	bucket.TryConsume(60)
	clk.Advance(1500 * time.Millisecond)

	if diff := math.Abs(bucket.Level() - 1.5); diff > 1e-9 {
		t.Errorf("Expected level 1.5 after 1.5s, got %v", bucket.Level())
	}
}

func TestTokenBucket_TimeUntilAvailable(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bucket := NewTokenBucket(10, 2, clk)

	if got := bucket.TimeUntilAvailable(10); got != 0 {
		t.Errorf("Expected 0 for full bucket, got %v", got)
	}

	bucket.TryConsume(10)

	// 5 tokens at 2/sec = 2.5s.
	got := bucket.TimeUntilAvailable(5)
	want := 2500 * time.Millisecond
	if got != want {
		t.Errorf("Expected %v, got %v", want, got)
	}
}

func TestTokenBucket_ExactCapacitySequence(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bucket := NewTokenBucket(10, 0, clk) // no refill: pure budget

	// Ten single-token consumes succeed, the eleventh fails.
	for i := 0; i < 10; i++ {
		if !bucket.TryConsume(1) {
			t.Fatalf("Consume %d should succeed", i+1)
		}
	}
	if bucket.TryConsume(1) {
		t.Error("Consume beyond capacity should fail")
	}
	if got := bucket.Level(); got != 0 {
		t.Errorf("Expected level 0, got %v", got)
	}
}

func TestTokenBucket_ConcurrentConsumeLinearizable(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	bucket := NewTokenBucket(100, 0, clk)

	var successes int64
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if bucket.TryConsume(1) {
					atomic.AddInt64(&successes, 1)
				}
			}
		}()
	}
	wg.Wait()

	// 500 attempts against 100 tokens: exactly 100 may succeed.
	if successes != 100 {
		t.Errorf("Expected exactly 100 successes, got %d", successes)
	}
	if got := bucket.Level(); got != 0 {
		t.Errorf("Expected level 0, got %v", got)
	}
}

// ============================================================================
// Bucket Registry Tests
// ============================================================================

func TestBuckets_LazyCreation(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	buckets := NewBuckets(clk, time.Hour)

	if buckets.Len() != 0 {
		t.Error("Registry should start empty")
	}

	if !buckets.TryConsume("user-1", KindRPM, 3, 0.05, 1) {
		t.Error("First consume should succeed against a full bucket")
	}
	if buckets.Len() != 1 {
		t.Errorf("Expected 1 bucket, got %d", buckets.Len())
	}

	buckets.TryConsume("user-1", KindTPM, 10000, 166.7, 500)
	if buckets.Len() != 2 {
		t.Errorf("Expected 2 buckets, got %d", buckets.Len())
	}
}

func TestBuckets_IndependentSubjects(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	buckets := NewBuckets(clk, time.Hour)

	// Drain user-1's RPM bucket.
	for i := 0; i < 3; i++ {
		buckets.TryConsume("user-1", KindRPM, 3, 0.05, 1)
	}
	if buckets.TryConsume("user-1", KindRPM, 3, 0.05, 1) {
		t.Error("user-1 should be rate limited")
	}

	// user-2 is unaffected.
	if !buckets.TryConsume("user-2", KindRPM, 3, 0.05, 1) {
		t.Error("user-2 should not be rate limited")
	}
}

func TestBuckets_LimitChangeReplacesBucket(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	buckets := NewBuckets(clk, time.Hour)

	for i := 0; i < 3; i++ {
		buckets.TryConsume("user-1", KindRPM, 3, 0.05, 1)
	}
	if buckets.TryConsume("user-1", KindRPM, 3, 0.05, 1) {
		t.Error("Should be exhausted at the old limit")
	}

	// Tier upgrade: new capacity yields a fresh full bucket.
	if !buckets.TryConsume("user-1", KindRPM, 30, 0.5, 1) {
		t.Error("Upgraded limit should allow immediately")
	}
}

func TestBuckets_EvictIdle(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	buckets := NewBuckets(clk, 10*time.Minute)

	buckets.TryConsume("user-1", KindRPM, 3, 0.05, 1)
	buckets.TryConsume("user-2", KindRPM, 3, 0.05, 1)

	clk.Advance(5 * time.Minute)
	buckets.TryConsume("user-2", KindRPM, 3, 0.05, 1) // keep user-2 warm

	clk.Advance(6 * time.Minute)

	evicted := buckets.EvictIdle()
	if evicted != 1 {
		t.Errorf("Expected 1 eviction, got %d", evicted)
	}
	if buckets.Len() != 1 {
		t.Errorf("Expected 1 bucket remaining, got %d", buckets.Len())
	}
}
