package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/clock"
)

var errBoom = errors.New("boom")

func newTestBreaker(t *testing.T) (*Breaker, *clock.Fake) {
	t.Helper()
	clk := clock.NewFake(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	cfg := Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		ResetTimeout:     30 * time.Second,
		RollingWindow:    time.Minute,
	}
	return New("anthropic", cfg, clk, nil), clk
}

func fail(context.Context) error    { return errBoom }
func succeed(context.Context) error { return nil }

func tripOpen(t *testing.T, b *Breaker) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
			t.Fatalf("Expected wrapped error, got %v", err)
		}
	}
	if b.State() != StateOpen {
		t.Fatalf("Expected open after 5 failures, got %v", b.State())
	}
}

func TestBreaker_OpensAtFailureThreshold(t *testing.T) {
	b, _ := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		b.Execute(ctx, fail)
		if b.State() != StateClosed {
			t.Fatalf("Should stay closed at %d failures", i+1)
		}
	}

	b.Execute(ctx, fail)
	if b.State() != StateOpen {
		t.Errorf("Expected open after 5th failure, got %v", b.State())
	}
}

func TestBreaker_RejectsWhileOpenWithoutInvoking(t *testing.T) {
	b, clk := newTestBreaker(t)
	ctx := context.Background()
	tripOpen(t, b)

	clk.Advance(10 * time.Second) // still inside the 30s cooldown

	invoked := false
	err := b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	})

	if invoked {
		t.Error("Wrapped function must not run while open")
	}
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Expected OpenError, got %v", err)
	}
	if openErr.RetryAfter != 20*time.Second {
		t.Errorf("Expected 20s retry-after, got %v", openErr.RetryAfter)
	}
	if openErr.Target != "anthropic" {
		t.Errorf("Expected target in error, got %q", openErr.Target)
	}
}

func TestBreaker_HalfOpenProbeAndClose(t *testing.T) {
	b, clk := newTestBreaker(t)
	ctx := context.Background()
	tripOpen(t, b)

	clk.Advance(31 * time.Second)

	// First call after the cooldown probes the target.
	invoked := false
	if err := b.Execute(ctx, func(context.Context) error {
		invoked = true
		return nil
	}); err != nil {
		t.Fatalf("Probe should succeed: %v", err)
	}
	if !invoked {
		t.Fatal("Probe must invoke the wrapped function")
	}
	if b.State() != StateHalfOpen {
		t.Errorf("One success of two should stay half-open, got %v", b.State())
	}

	// Second consecutive success closes the circuit.
	if err := b.Execute(ctx, succeed); err != nil {
		t.Fatalf("Second probe failed: %v", err)
	}
	if b.State() != StateClosed {
		t.Errorf("Expected closed after success threshold, got %v", b.State())
	}
	if b.RecentFailures() != 0 {
		t.Errorf("Closing should clear failure history, got %d", b.RecentFailures())
	}
}

func TestBreaker_SingleHalfOpenFailureReopens(t *testing.T) {
	b, clk := newTestBreaker(t)
	ctx := context.Background()
	tripOpen(t, b)

	clk.Advance(31 * time.Second)

	if err := b.Execute(ctx, fail); !errors.Is(err, errBoom) {
		t.Fatalf("Probe failure should pass through verbatim, got %v", err)
	}
	if b.State() != StateOpen {
		t.Errorf("Expected reopen after probe failure, got %v", b.State())
	}

	// The cooldown restarts from the reopen.
	err := b.Execute(ctx, succeed)
	var openErr *OpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("Expected OpenError right after reopen, got %v", err)
	}
	if openErr.RetryAfter != 30*time.Second {
		t.Errorf("Expected full 30s cooldown, got %v", openErr.RetryAfter)
	}
}

func TestBreaker_RollingWindowForgetsOldFailures(t *testing.T) {
	b, clk := newTestBreaker(t)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		b.Execute(ctx, fail)
	}

	// Old failures age out of the 1m window.
	clk.Advance(2 * time.Minute)

	b.Execute(ctx, fail)
	if b.State() != StateOpen {
		// Only 1 failure is inside the window now.
		if got := b.RecentFailures(); got != 1 {
			t.Errorf("Expected 1 recent failure, got %d", got)
		}
	} else {
		t.Error("Stale failures should not trip the breaker")
	}
}

func TestBreaker_ErrorsPassThroughVerbatim(t *testing.T) {
	b, _ := newTestBreaker(t)

	wrapped := errors.New("provider timeout")
	err := b.Execute(context.Background(), func(context.Context) error { return wrapped })
	if err != wrapped {
		t.Errorf("Expected identical error back, got %v", err)
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newTestBreaker(t)
	tripOpen(t, b)

	b.Reset()
	if b.State() != StateClosed {
		t.Errorf("Expected closed after reset, got %v", b.State())
	}
	if err := b.Execute(context.Background(), succeed); err != nil {
		t.Errorf("Call after reset should pass: %v", err)
	}
}

// ===== Manager =====

func TestManager_LazyPerTargetBreakers(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	m := NewManager(DefaultConfig(), clk, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.Execute(ctx, "anthropic", fail)
	}

	if m.Get("anthropic").State() != StateOpen {
		t.Error("anthropic breaker should be open")
	}
	if m.Get("openai").State() != StateClosed {
		t.Error("openai breaker must be independent")
	}

	if err := m.Execute(ctx, "openai", succeed); err != nil {
		t.Errorf("Independent target should still accept calls: %v", err)
	}
}

func TestManager_StateCounts(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	m := NewManager(DefaultConfig(), clk, nil)
	ctx := context.Background()

	m.Execute(ctx, "a", succeed)
	m.Execute(ctx, "b", succeed)
	for i := 0; i < 5; i++ {
		m.Execute(ctx, "c", fail)
	}

	counts := m.StateCounts()
	if counts[StateClosed] != 2 || counts[StateOpen] != 1 || counts[StateHalfOpen] != 0 {
		t.Errorf("Unexpected counts: %v", counts)
	}
}

func TestManager_Reset(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	m := NewManager(DefaultConfig(), clk, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.Execute(ctx, "a", fail)
		m.Execute(ctx, "b", fail)
	}

	m.Reset("a")
	if m.Get("a").State() != StateClosed {
		t.Error("Reset target should be closed")
	}
	if m.Get("b").State() != StateOpen {
		t.Error("Other targets should be untouched")
	}

	m.ResetAll()
	if m.Get("b").State() != StateClosed {
		t.Error("ResetAll should close every breaker")
	}
}
