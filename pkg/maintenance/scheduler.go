package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"mercator-hq/ganymede/pkg/admission/ratelimit"
	"mercator-hq/ganymede/pkg/admission/storage"
	"mercator-hq/ganymede/pkg/clock"
)

// Config tunes the background jobs.
type Config struct {
	// PruneSchedule is a cron expression for ledger retention pruning.
	PruneSchedule string

	// RetentionDays is how long cost entries are kept.
	RetentionDays int

	// EvictSchedule is a cron expression for idle bucket eviction.
	EvictSchedule string
}

// Scheduler runs periodic housekeeping: pruning expired cost entries
// and evicting idle token buckets. Both jobs are safe to run while the
// gate is serving traffic.
type Scheduler struct {
	cron    *cron.Cron
	ledger  storage.Ledger
	buckets *ratelimit.Buckets
	cfg     Config
	clk     clock.Clock
	logger  *slog.Logger
}

// New creates a scheduler. Both cron expressions are validated here so
// a bad schedule fails at startup.
func New(cfg Config, ledger storage.Ledger, buckets *ratelimit.Buckets, clk clock.Clock, logger *slog.Logger) (*Scheduler, error) {
	if cfg.RetentionDays < 1 {
		return nil, fmt.Errorf("retention days must be at least 1, got %d", cfg.RetentionDays)
	}
	if _, err := cron.ParseStandard(cfg.PruneSchedule); err != nil {
		return nil, fmt.Errorf("invalid prune schedule %q: %w", cfg.PruneSchedule, err)
	}
	if _, err := cron.ParseStandard(cfg.EvictSchedule); err != nil {
		return nil, fmt.Errorf("invalid evict schedule %q: %w", cfg.EvictSchedule, err)
	}
	if clk == nil {
		clk = clock.System
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		cron:    cron.New(),
		ledger:  ledger,
		buckets: buckets,
		cfg:     cfg,
		clk:     clk,
		logger:  logger.With("component", "maintenance"),
	}, nil
}

// Start registers the jobs and begins the cron loop.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.PruneSchedule, func() { s.RunPrune(context.Background()) }); err != nil {
		return fmt.Errorf("failed to schedule ledger pruning: %w", err)
	}
	if _, err := s.cron.AddFunc(s.cfg.EvictSchedule, func() { s.RunEvict() }); err != nil {
		return fmt.Errorf("failed to schedule bucket eviction: %w", err)
	}

	s.cron.Start()
	s.logger.Info("maintenance scheduler started",
		"prune_schedule", s.cfg.PruneSchedule,
		"retention_days", s.cfg.RetentionDays,
		"evict_schedule", s.cfg.EvictSchedule,
	)
	return nil
}

// Stop halts the cron loop and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("maintenance scheduler stopped")
}

// RunPrune deletes cost entries older than the retention window. It is
// exported so operators can trigger it outside the schedule.
func (s *Scheduler) RunPrune(ctx context.Context) {
	cutoff := s.clk.Now().AddDate(0, 0, -s.cfg.RetentionDays)

	deleted, err := s.ledger.Prune(ctx, cutoff)
	if err != nil {
		s.logger.Error("ledger pruning failed", "cutoff", cutoff, "error", err)
		return
	}
	s.logger.Info("ledger pruned", "cutoff", cutoff.Format(time.RFC3339), "deleted", deleted)
}

// RunEvict drops token buckets idle past their TTL.
func (s *Scheduler) RunEvict() {
	evicted := s.buckets.EvictIdle()
	if evicted > 0 {
		s.logger.Info("idle buckets evicted", "count", evicted)
	}
}
