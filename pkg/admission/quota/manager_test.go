package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/admission/storage"
	"mercator-hq/ganymede/pkg/clock"
)

func newTestManager(t *testing.T, start time.Time) (*Manager, *clock.Fake, *storage.MemoryStore) {
	t.Helper()
	clk := clock.NewFake(start)
	store := storage.NewMemoryStore()
	return NewManager(store, clk, nil), clk, store
}

func TestManager_AllowsWithinLimits(t *testing.T) {
	m, _, _ := newTestManager(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	status := m.Check(ctx, "user-1", 50, 500)
	if !status.Allowed {
		t.Errorf("Fresh subject should be allowed: %+v", status)
	}
	if status.DailyUsed != 0 || status.MonthlyUsed != 0 {
		t.Errorf("Fresh subject should have zero counters: %+v", status)
	}
}

func TestManager_DailyCeiling(t *testing.T) {
	m, _, _ := newTestManager(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		m.Increment(ctx, "user-1")
	}

	status := m.Check(ctx, "user-1", 3, 0)
	if status.Allowed {
		t.Error("Expected daily ceiling rejection")
	}
	if status.Reason != "daily quota exceeded" {
		t.Errorf("Unexpected reason: %q", status.Reason)
	}
	if status.DailyUsed != 3 {
		t.Errorf("Expected 3 used, got %d", status.DailyUsed)
	}
}

func TestManager_MonthlyCeiling(t *testing.T) {
	m, _, _ := newTestManager(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		m.Increment(ctx, "user-1")
	}

	status := m.Check(ctx, "user-1", 0, 5)
	if status.Allowed {
		t.Error("Expected monthly ceiling rejection")
	}
	if status.Reason != "monthly quota exceeded" {
		t.Errorf("Unexpected reason: %q", status.Reason)
	}
}

func TestManager_ZeroMeansUnlimited(t *testing.T) {
	m, _, _ := newTestManager(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		m.Increment(ctx, "user-1")
	}

	if status := m.Check(ctx, "user-1", 0, 0); !status.Allowed {
		t.Errorf("Zero limits should never reject: %+v", status)
	}
}

func TestManager_DailyBoundaryReset(t *testing.T) {
	// 1ms before UTC midnight.
	start := time.Date(2025, 6, 15, 23, 59, 59, 999_000_000, time.UTC)
	m, clk, _ := newTestManager(t, start)
	ctx := context.Background()

	m.Increment(ctx, "user-1")
	m.Increment(ctx, "user-1")

	// 1ms after midnight: daily resets, monthly does not.
	clk.Advance(2 * time.Millisecond)

	status := m.Check(ctx, "user-1", 50, 500)
	if status.DailyUsed != 0 {
		t.Errorf("Daily count should reset at midnight, got %d", status.DailyUsed)
	}
	if status.MonthlyUsed != 2 {
		t.Errorf("Monthly count should survive a daily boundary, got %d", status.MonthlyUsed)
	}

	// Post-boundary increments count from zero.
	m.Increment(ctx, "user-1")
	status = m.Check(ctx, "user-1", 50, 500)
	if status.DailyUsed != 1 {
		t.Errorf("Expected 1 post-boundary increment, got %d", status.DailyUsed)
	}

	wantReset := time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC)
	if !status.DailyResetAt.Equal(wantReset) {
		t.Errorf("Expected next boundary %v, got %v", wantReset, status.DailyResetAt)
	}
}

func TestManager_MonthlyBoundaryReset(t *testing.T) {
	start := time.Date(2025, 6, 30, 23, 59, 0, 0, time.UTC)
	m, clk, _ := newTestManager(t, start)
	ctx := context.Background()

	m.Increment(ctx, "user-1")

	clk.Advance(2 * time.Minute) // crosses into July 1

	status := m.Check(ctx, "user-1", 50, 500)
	if status.MonthlyUsed != 0 {
		t.Errorf("Monthly count should reset on the first, got %d", status.MonthlyUsed)
	}

	wantReset := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	if !status.MonthlyResetAt.Equal(wantReset) {
		t.Errorf("Expected next boundary %v, got %v", wantReset, status.MonthlyResetAt)
	}
}

func TestManager_PersistsAcrossRestart(t *testing.T) {
	start := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(start)
	store := storage.NewMemoryStore()
	ctx := context.Background()

	m1 := NewManager(store, clk, nil)
	m1.Increment(ctx, "user-1")
	m1.Increment(ctx, "user-1")

	// New manager over the same store simulates a restart.
	m2 := NewManager(store, clk, nil)
	status := m2.Check(ctx, "user-1", 50, 500)
	if status.DailyUsed != 2 || status.MonthlyUsed != 2 {
		t.Errorf("Counters should survive restart: %+v", status)
	}
}

func TestManager_Reset(t *testing.T) {
	m, _, _ := newTestManager(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		m.Increment(ctx, "user-1")
	}
	m.Reset(ctx, "user-1")

	status := m.Check(ctx, "user-1", 5, 5)
	if !status.Allowed || status.DailyUsed != 0 || status.MonthlyUsed != 0 {
		t.Errorf("Reset should zero counters: %+v", status)
	}
}

func TestManager_ConcurrentIncrements(t *testing.T) {
	m, _, _ := newTestManager(t, time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				m.Increment(ctx, "user-1")
			}
		}()
	}
	wg.Wait()

	status := m.Check(ctx, "user-1", 0, 0)
	if status.DailyUsed != 100 {
		t.Errorf("Expected 100 increments, got %d", status.DailyUsed)
	}
}

func TestBoundaryHelpers(t *testing.T) {
	now := time.Date(2025, 12, 31, 18, 30, 0, 0, time.UTC)

	if got := nextUTCMidnight(now); !got.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("nextUTCMidnight across year: got %v", got)
	}
	if got := firstOfNextUTCMonth(now); !got.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("firstOfNextUTCMonth across year: got %v", got)
	}

	feb := time.Date(2025, 1, 31, 12, 0, 0, 0, time.UTC)
	if got := firstOfNextUTCMonth(feb); !got.Equal(time.Date(2025, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("firstOfNextUTCMonth into February: got %v", got)
	}
}
