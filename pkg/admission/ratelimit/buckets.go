package ratelimit

import (
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/clock"
)

// Kind distinguishes the two bucket dimensions kept per subject.
type Kind string

const (
	// KindRPM is the requests-per-minute bucket.
	KindRPM Kind = "rpm"

	// KindTPM is the tokens-per-minute bucket.
	KindTPM Kind = "tpm"
)

// Buckets is a registry of per-(subject, kind) token buckets. Buckets
// are created lazily on first check and evicted after sitting idle for
// a TTL, since most subjects are only briefly active.
//
// Tier limits are passed on every call because tiers are mutable and
// looked up lazily per request. If a subject's limits change (tier
// upgrade or table reload), the existing bucket is replaced with a
// fresh full one at the new rate.
type Buckets struct {
	mu      sync.Mutex
	entries map[bucketKey]*bucketEntry
	clk     clock.Clock
	ttl     time.Duration
}

type bucketKey struct {
	subject string
	kind    Kind
}

type bucketEntry struct {
	bucket     *TokenBucket
	capacity   float64
	refillRate float64
	lastUsed   time.Time
}

// DefaultBucketTTL is how long an idle bucket survives before eviction.
const DefaultBucketTTL = 30 * time.Minute

// NewBuckets creates an empty registry.
func NewBuckets(clk clock.Clock, ttl time.Duration) *Buckets {
	if clk == nil {
		clk = clock.System
	}
	if ttl <= 0 {
		ttl = DefaultBucketTTL
	}
	return &Buckets{
		entries: make(map[bucketKey]*bucketEntry),
		clk:     clk,
		ttl:     ttl,
	}
}

// TryConsume consumes amount tokens from the subject's bucket of the
// given kind, creating it (full) on first use with the supplied
// capacity and per-second refill rate.
func (b *Buckets) TryConsume(subject string, kind Kind, capacity, refillRate, amount float64) bool {
	return b.get(subject, kind, capacity, refillRate).TryConsume(amount)
}

// TimeUntilAvailable reports how long until amount tokens are available
// in the subject's bucket.
func (b *Buckets) TimeUntilAvailable(subject string, kind Kind, capacity, refillRate, amount float64) time.Duration {
	return b.get(subject, kind, capacity, refillRate).TimeUntilAvailable(amount)
}

// Level returns the current level of the subject's bucket.
func (b *Buckets) Level(subject string, kind Kind, capacity, refillRate float64) float64 {
	return b.get(subject, kind, capacity, refillRate).Level()
}

// Len returns the number of live buckets, for observability.
func (b *Buckets) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}

// EvictIdle removes buckets not used within the TTL and returns how
// many were evicted.
func (b *Buckets) EvictIdle() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clk.Now()
	evicted := 0
	for key, e := range b.entries {
		if now.Sub(e.lastUsed) > b.ttl {
			delete(b.entries, key)
			evicted++
		}
	}
	return evicted
}

// get returns the bucket for (subject, kind), creating or replacing it
// as needed. The registry lock is held only for map access; bucket
// operations take the bucket's own lock.
func (b *Buckets) get(subject string, kind Kind, capacity, refillRate float64) *TokenBucket {
	key := bucketKey{subject, kind}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[key]
	if !ok || e.capacity != capacity || e.refillRate != refillRate {
		e = &bucketEntry{
			bucket:     NewTokenBucket(capacity, refillRate, b.clk),
			capacity:   capacity,
			refillRate: refillRate,
		}
		b.entries[key] = e
	}
	e.lastUsed = b.clk.Now()

	return e.bucket
}
