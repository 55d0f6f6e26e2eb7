package breaker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/clock"
)

// State is a breaker's position in its lifecycle.
type State int

const (
	// StateClosed lets calls through and counts failures.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets probe calls through to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config tunes a breaker's trip and recovery behavior.
type Config struct {
	// FailureThreshold is how many failures within RollingWindow trip
	// the breaker.
	FailureThreshold int `yaml:"failure_threshold"`

	// SuccessThreshold is how many consecutive half-open successes
	// close the breaker again.
	SuccessThreshold int `yaml:"success_threshold"`

	// ResetTimeout is how long the breaker stays open before probing.
	ResetTimeout time.Duration `yaml:"reset_timeout"`

	// RollingWindow bounds how far back failures count toward the
	// threshold.
	RollingWindow time.Duration `yaml:"rolling_window"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		RollingWindow:    time.Minute,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.RollingWindow <= 0 {
		c.RollingWindow = d.RollingWindow
	}
	return c
}

// OpenError is returned when a call is rejected because the breaker is
// open. It is the only error the breaker itself produces; failures from
// the wrapped call pass through unchanged.
type OpenError struct {
	Target     string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s, retry after %s", e.Target, e.RetryAfter.Round(time.Millisecond))
}

// Breaker isolates a failing call target. Failures are recorded in a
// fixed-size ring of timestamps so memory stays bounded regardless of
// call volume. The open-to-half-open transition is lazy: it happens on
// the next call attempt after the reset timeout, not on a timer.
type Breaker struct {
	target string
	cfg    Config
	clk    clock.Clock
	logger *slog.Logger

	mu          sync.Mutex
	state       State
	failures    []time.Time
	head        int
	count       int
	successes   int
	nextAttempt time.Time
}

// New creates a closed breaker for the named target.
func New(target string, cfg Config, clk clock.Clock, logger *slog.Logger) *Breaker {
	cfg = cfg.withDefaults()
	if clk == nil {
		clk = clock.System
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		target:   target,
		cfg:      cfg,
		clk:      clk,
		logger:   logger.With("component", "admission.breaker", "target", target),
		failures: make([]time.Time, cfg.FailureThreshold),
	}
}

// Target returns the name the breaker guards.
func (b *Breaker) Target() string {
	return b.target
}

// Execute runs fn under the breaker. When the breaker is open the call
// is rejected with an OpenError and fn is never invoked. Otherwise fn's
// error is returned verbatim after being recorded.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	err := fn(ctx)
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// State returns the breaker's current state. An open breaker past its
// reset timeout still reports open until a call attempt probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// RecentFailures counts failures inside the rolling window.
func (b *Breaker) RecentFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.recentLocked(b.clk.Now())
}

// Reset forces the breaker closed and clears its history.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toClosedLocked()
	b.logger.Info("circuit breaker reset")
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	now := b.clk.Now()
	if now.Before(b.nextAttempt) {
		return &OpenError{Target: b.target, RetryAfter: b.nextAttempt.Sub(now)}
	}

	b.state = StateHalfOpen
	b.successes = 0
	b.logger.Info("circuit breaker half-open, probing target")
	return nil
}

func (b *Breaker) onSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateHalfOpen {
		return
	}
	b.successes++
	if b.successes >= b.cfg.SuccessThreshold {
		b.toClosedLocked()
		b.logger.Info("circuit breaker closed after successful probes")
	}
}

func (b *Breaker) onFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clk.Now()

	if b.state == StateHalfOpen {
		b.toOpenLocked(now)
		b.logger.Warn("circuit breaker reopened, probe failed")
		return
	}
	if b.state != StateClosed {
		return
	}

	b.pushFailureLocked(now)
	if b.recentLocked(now) >= b.cfg.FailureThreshold {
		b.toOpenLocked(now)
		b.logger.Warn("circuit breaker opened",
			"failures", b.cfg.FailureThreshold,
			"window", b.cfg.RollingWindow,
			"retry_after", b.cfg.ResetTimeout,
		)
	}
}

func (b *Breaker) toOpenLocked(now time.Time) {
	b.state = StateOpen
	b.successes = 0
	b.nextAttempt = now.Add(b.cfg.ResetTimeout)
}

func (b *Breaker) toClosedLocked() {
	b.state = StateClosed
	b.successes = 0
	b.head = 0
	b.count = 0
	b.nextAttempt = time.Time{}
}

// pushFailureLocked appends a failure timestamp to the ring,
// overwriting the oldest entry when full. The ring holds exactly
// FailureThreshold entries, which is all the trip check needs.
func (b *Breaker) pushFailureLocked(ts time.Time) {
	idx := (b.head + b.count) % len(b.failures)
	if b.count == len(b.failures) {
		b.failures[b.head] = ts
		b.head = (b.head + 1) % len(b.failures)
		return
	}
	b.failures[idx] = ts
	b.count++
}

func (b *Breaker) recentLocked(now time.Time) int {
	cutoff := now.Add(-b.cfg.RollingWindow)
	n := 0
	for i := 0; i < b.count; i++ {
		ts := b.failures[(b.head+i)%len(b.failures)]
		if ts.After(cutoff) {
			n++
		}
	}
	return n
}
