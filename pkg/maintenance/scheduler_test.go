package maintenance

import (
	"context"
	"testing"
	"time"

	"mercator-hq/ganymede/pkg/admission/ratelimit"
	"mercator-hq/ganymede/pkg/admission/storage"
	"mercator-hq/ganymede/pkg/clock"
)

func testConfig() Config {
	return Config{
		PruneSchedule: "0 3 * * *",
		RetentionDays: 30,
		EvictSchedule: "*/15 * * * *",
	}
}

func TestNew_ValidatesSchedules(t *testing.T) {
	store := storage.NewMemoryStore()
	clk := clock.NewFake(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	buckets := ratelimit.NewBuckets(clk, 0)

	cfg := testConfig()
	cfg.PruneSchedule = "not a schedule"
	if _, err := New(cfg, store, buckets, clk, nil); err == nil {
		t.Error("Expected error for invalid prune schedule")
	}

	cfg = testConfig()
	cfg.RetentionDays = 0
	if _, err := New(cfg, store, buckets, clk, nil); err == nil {
		t.Error("Expected error for zero retention")
	}

	if _, err := New(testConfig(), store, buckets, clk, nil); err != nil {
		t.Errorf("Valid config rejected: %v", err)
	}
}

func TestRunPrune_DeletesBeyondRetention(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clk := clock.NewFake(now)
	store := storage.NewMemoryStore()
	buckets := ratelimit.NewBuckets(clk, 0)
	ctx := context.Background()

	old := &storage.CostEntry{ID: "old", Subject: "user-1", CostUSD: 1, Timestamp: now.AddDate(0, 0, -40)}
	recent := &storage.CostEntry{ID: "recent", Subject: "user-1", CostUSD: 2, Timestamp: now.AddDate(0, 0, -10)}
	store.Append(ctx, old)
	store.Append(ctx, recent)

	s, err := New(testConfig(), store, buckets, clk, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s.RunPrune(ctx)

	sum, err := store.SumRange(ctx, "user-1", time.Time{}, now.Add(time.Nanosecond))
	if err != nil {
		t.Fatalf("SumRange failed: %v", err)
	}
	if sum != 2 {
		t.Errorf("Only the recent entry should survive, sum %v", sum)
	}
}

func TestRunEvict_DropsIdleBuckets(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStore()
	buckets := ratelimit.NewBuckets(clk, 10*time.Minute)

	buckets.TryConsume("user-1", ratelimit.KindRPM, 10, 1, 1)
	clk.Advance(time.Hour)

	s, err := New(testConfig(), store, buckets, clk, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	s.RunEvict()

	if buckets.Len() != 0 {
		t.Errorf("Idle bucket should be evicted, %d remain", buckets.Len())
	}
}

func TestStartStop(t *testing.T) {
	clk := clock.NewFake(time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC))
	store := storage.NewMemoryStore()
	buckets := ratelimit.NewBuckets(clk, 0)

	s, err := New(testConfig(), store, buckets, clk, nil)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := s.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	s.Stop()
}
