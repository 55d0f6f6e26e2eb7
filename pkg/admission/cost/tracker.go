package cost

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"mercator-hq/ganymede/pkg/admission/storage"
	"mercator-hq/ganymede/pkg/clock"
)

// Summary aggregates a subject's spending. All figures are derived by
// range queries over the ledger at call time, never from cached
// counters, so they are consistent after any interleaving of
// concurrent writes.
type Summary struct {
	// Subject is the identity the summary covers.
	Subject string

	// LifetimeUSD is total spend over the whole ledger retention.
	LifetimeUSD float64

	// DailyUSD is spend since UTC midnight.
	DailyUSD float64

	// MonthlyUSD is spend since the first of the UTC month.
	MonthlyUSD float64

	// ByModel is lifetime spend per model.
	ByModel map[string]float64
}

// BudgetStatus is the result of a budget check.
type BudgetStatus struct {
	// OverBudget is true when either window exceeds its ceiling.
	OverBudget bool

	// Reason names the exhausted window (if OverBudget).
	Reason string

	// DailyUSD and MonthlyUSD are the current window sums.
	DailyUSD   float64
	MonthlyUSD float64

	// DailyLimitUSD and MonthlyLimitUSD are the ceilings checked
	// (0 = unlimited).
	DailyLimitUSD   float64
	MonthlyLimitUSD float64
}

// Tracker converts token usage into dollars and keeps the append-only
// cost ledger.
type Tracker struct {
	ledger  storage.Ledger
	pricing *Pricing
	clk     clock.Clock
	logger  *slog.Logger
}

// NewTracker creates a cost tracker over the given ledger.
func NewTracker(ledger storage.Ledger, pricing *Pricing, clk clock.Clock, logger *slog.Logger) *Tracker {
	if pricing == nil {
		pricing = NewPricing(logger)
	}
	if clk == nil {
		clk = clock.System
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		ledger:  ledger,
		pricing: pricing,
		clk:     clk,
		logger:  logger.With("component", "admission.cost"),
	}
}

// Pricing exposes the price table for estimation by callers.
func (t *Tracker) Pricing() *Pricing {
	return t.pricing
}

// Calculate computes the USD cost for a (model, tokens) pair without
// recording anything.
func (t *Tracker) Calculate(model string, inputTokens, outputTokens int) float64 {
	return t.pricing.Calculate(model, inputTokens, outputTokens)
}

// Record computes the cost of a completed request, appends one
// immutable ledger entry, and returns the cost.
func (t *Tracker) Record(ctx context.Context, subject, conversationRef, channel, model string, inputTokens, outputTokens int) (float64, error) {
	costUSD := t.pricing.Calculate(model, inputTokens, outputTokens)

	entry := &storage.CostEntry{
		ID:              uuid.New().String(),
		Subject:         subject,
		ConversationRef: conversationRef,
		Model:           model,
		Channel:         channel,
		InputTokens:     inputTokens,
		OutputTokens:    outputTokens,
		CostUSD:         costUSD,
		Timestamp:       t.clk.Now(),
	}

	if err := t.ledger.Append(ctx, entry); err != nil {
		return costUSD, fmt.Errorf("failed to record cost entry: %w", err)
	}

	return costUSD, nil
}

// SummaryFor aggregates the subject's lifetime, daily, and monthly
// spend plus per-model totals.
func (t *Tracker) SummaryFor(ctx context.Context, subject string) (*Summary, error) {
	now := t.clk.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	end := now.Add(time.Nanosecond) // ranges are half-open

	lifetime, err := t.ledger.SumRange(ctx, subject, time.Time{}, end)
	if err != nil {
		return nil, fmt.Errorf("failed to sum lifetime cost: %w", err)
	}
	daily, err := t.ledger.SumRange(ctx, subject, dayStart, end)
	if err != nil {
		return nil, fmt.Errorf("failed to sum daily cost: %w", err)
	}
	monthly, err := t.ledger.SumRange(ctx, subject, monthStart, end)
	if err != nil {
		return nil, fmt.Errorf("failed to sum monthly cost: %w", err)
	}
	byModel, err := t.ledger.SumByModel(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("failed to sum per-model cost: %w", err)
	}

	return &Summary{
		Subject:     subject,
		LifetimeUSD: lifetime,
		DailyUSD:    daily,
		MonthlyUSD:  monthly,
		ByModel:     byModel,
	}, nil
}

// CheckBudget compares the subject's daily and monthly spend against
// the given ceilings. Zero ceilings mean unlimited. This is a pure read
// over the summary.
func (t *Tracker) CheckBudget(ctx context.Context, subject string, dailyLimitUSD, monthlyLimitUSD float64) (*BudgetStatus, error) {
	summary, err := t.SummaryFor(ctx, subject)
	if err != nil {
		return nil, err
	}

	status := &BudgetStatus{
		DailyUSD:        summary.DailyUSD,
		MonthlyUSD:      summary.MonthlyUSD,
		DailyLimitUSD:   dailyLimitUSD,
		MonthlyLimitUSD: monthlyLimitUSD,
	}

	if dailyLimitUSD > 0 && summary.DailyUSD >= dailyLimitUSD {
		status.OverBudget = true
		status.Reason = "daily cost budget exceeded"
		return status, nil
	}
	if monthlyLimitUSD > 0 && summary.MonthlyUSD >= monthlyLimitUSD {
		status.OverBudget = true
		status.Reason = "monthly cost budget exceeded"
		return status, nil
	}

	return status, nil
}
