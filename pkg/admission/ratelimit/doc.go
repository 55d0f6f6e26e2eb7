// Package ratelimit implements token bucket rate limiting for the
// admission layer.
//
// Each subject holds up to two buckets: one for requests per minute
// (KindRPM) and one for LLM tokens per minute (KindTPM). Buckets refill
// continuously with floating-point precision, are created lazily on the
// first check for a (subject, kind) pair, and are evicted after an idle
// TTL.
//
// The invariant 0 <= level <= capacity holds at every observation
// point: the level only decreases on successful consumption and only
// increases via time-proportional refill capped at capacity.
package ratelimit
