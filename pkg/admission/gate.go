package admission

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"mercator-hq/ganymede/pkg/admission/breaker"
	"mercator-hq/ganymede/pkg/admission/cost"
	"mercator-hq/ganymede/pkg/admission/pool"
	"mercator-hq/ganymede/pkg/admission/quota"
	"mercator-hq/ganymede/pkg/admission/ratelimit"
	"mercator-hq/ganymede/pkg/admission/storage"
	"mercator-hq/ganymede/pkg/clock"
	"mercator-hq/ganymede/pkg/tier"
)

// Request is one inbound admission check.
type Request struct {
	// Subject is the identity the limits apply to.
	Subject string

	// Channel names the interface the request arrived on (api, chat,
	// cron). Recorded with cost entries for attribution.
	Channel string

	// EstimatedTokens is the expected token consumption. Zero skips
	// the TPM check.
	EstimatedTokens int

	// EstimatedCostUSD is the expected spend. Zero skips the budget
	// check.
	EstimatedCostUSD float64
}

// UsageRecord reports actual consumption after a request executed.
type UsageRecord struct {
	Subject         string
	Channel         string
	Model           string
	ConversationRef string
	InputTokens     int
	OutputTokens    int
}

// Usage is the point-in-time snapshot returned with an allowed
// decision, for client-facing status display.
type Usage struct {
	Tier   tier.Tier
	Limits tier.Limits

	RPMRemaining float64
	TPMRemaining float64

	DailyRequestsUsed   int64
	MonthlyRequestsUsed int64
	DailyResetAt        time.Time
	MonthlyResetAt      time.Time

	DailyCostUSD   float64
	MonthlyCostUSD float64

	ConcurrentRunning int
}

// Decision is the outcome of an admission check. Rejections are data,
// not errors: Reason names the limit hit and RetryAfter hints when a
// retry could succeed.
type Decision struct {
	Allowed    bool
	Reason     string
	RetryAfter time.Duration

	// Message is a user-facing rendering of the rejection, including
	// a rounded wait time and an upgrade hint where one applies.
	Message string

	// CostAlert is set on allowed decisions when daily spend has
	// crossed the alert fraction of the daily budget.
	CostAlert bool

	// Usage is populated on allowed decisions.
	Usage *Usage
}

// retryHintFallback is the concurrency retry hint when the pool has no
// execution history to average yet.
const retryHintFallback = 5 * time.Second

// defaultCostAlertRatio triggers a cost alert at 80% of the daily
// budget.
const defaultCostAlertRatio = 0.8

// Options wires a Gate's collaborators. Policy, CounterStore, and
// Ledger are required; everything else has working defaults.
type Options struct {
	Policy       *tier.Policy
	CounterStore storage.CounterStore
	Ledger       storage.Ledger

	Pricing        *cost.Pricing
	PoolCapacity   int
	BucketTTL      time.Duration
	Breaker        breaker.Config
	CostAlertRatio float64

	Clock   clock.Clock
	Logger  *slog.Logger
	Metrics *Metrics
}

// Gate is the admission decision point. One Gate owns all per-subject
// limit state (buckets, quota counters, pool slots, breakers) and is
// shared by every request handler.
type Gate struct {
	policy   *tier.Policy
	buckets  *ratelimit.Buckets
	quota    *quota.Manager
	costs    *cost.Tracker
	pool     *pool.Pool
	breakers *breaker.Manager

	costAlertRatio float64
	metrics        *Metrics
	clk            clock.Clock
	logger         *slog.Logger
}

// New creates a Gate from its options.
func New(opts Options) (*Gate, error) {
	if opts.Policy == nil {
		return nil, fmt.Errorf("admission: tier policy is required")
	}
	if opts.CounterStore == nil {
		return nil, fmt.Errorf("admission: counter store is required")
	}
	if opts.Ledger == nil {
		return nil, fmt.Errorf("admission: cost ledger is required")
	}

	clk := opts.Clock
	if clk == nil {
		clk = clock.System
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	capacity := opts.PoolCapacity
	if capacity <= 0 {
		capacity = 10
	}
	ratio := opts.CostAlertRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = defaultCostAlertRatio
	}

	return &Gate{
		policy:         opts.Policy,
		buckets:        ratelimit.NewBuckets(clk, opts.BucketTTL),
		quota:          quota.NewManager(opts.CounterStore, clk, logger),
		costs:          cost.NewTracker(opts.Ledger, opts.Pricing, clk, logger),
		pool:           pool.New(capacity, clk, logger),
		breakers:       breaker.NewManager(opts.Breaker, clk, logger),
		costAlertRatio: ratio,
		metrics:        opts.Metrics,
		clk:            clk,
		logger:         logger.With("component", "admission.gate"),
	}, nil
}

// CheckLimit evaluates every admission dimension for the request and
// returns a decision. The first exhausted limit short-circuits. The
// check never blocks: when capacity is unavailable the caller gets a
// retry hint, not a queue slot.
//
// The RPM and TPM checks consume from the subject's buckets; quota and
// cost counters move only when RecordRequest reports consumption.
func (g *Gate) CheckLimit(ctx context.Context, req Request) *Decision {
	started := g.clk.Now()
	tierName, limits := g.policy.Resolve(req.Subject)

	dec := g.evaluate(ctx, req, tierName, limits)

	if dec.Allowed {
		g.metrics.observeCheck(tierName, "allowed")
	} else {
		g.metrics.observeCheck(tierName, "rejected")
		dec.Message = rejectionMessage(dec, tierName, g.policy.NextTier(tierName))
	}
	g.metrics.observeCheckDuration(g.clk.Now().Sub(started))
	g.metrics.observePool(g.pool.Metrics())
	return dec
}

func (g *Gate) evaluate(ctx context.Context, req Request, tierName tier.Tier, limits tier.Limits) *Decision {
	now := g.clk.Now()

	// Quota ceilings first: a subject out of daily requests should
	// hear that, not a transient rate message.
	qs := g.quota.Check(ctx, req.Subject, limits.DailyRequests, limits.MonthlyRequests)
	if !qs.Allowed {
		dec := &Decision{Reason: fmt.Sprintf("Daily quota exceeded: %d requests per day", limits.DailyRequests)}
		dec.RetryAfter = qs.DailyResetAt.Sub(now)
		limitType := "daily_quota"
		if qs.Reason == "monthly quota exceeded" {
			dec.Reason = fmt.Sprintf("Monthly quota exceeded: %d requests per month", limits.MonthlyRequests)
			dec.RetryAfter = qs.MonthlyResetAt.Sub(now)
			limitType = "monthly_quota"
		}
		g.metrics.observeRejection(tierName, limitType)
		return dec
	}

	if limits.RequestsPerMinute > 0 {
		capacity := float64(limits.RequestsPerMinute)
		rate := capacity / 60
		if !g.buckets.TryConsume(req.Subject, ratelimit.KindRPM, capacity, rate, 1) {
			dec := &Decision{
				Reason:     fmt.Sprintf("Rate limit exceeded: %d requests per minute", limits.RequestsPerMinute),
				RetryAfter: g.buckets.TimeUntilAvailable(req.Subject, ratelimit.KindRPM, capacity, rate, 1),
			}
			g.metrics.observeRejection(tierName, "rpm")
			return dec
		}
	}

	if req.EstimatedTokens > 0 && limits.TokensPerMinute > 0 {
		capacity := float64(limits.TokensPerMinute)
		rate := capacity / 60
		amount := float64(req.EstimatedTokens)
		if !g.buckets.TryConsume(req.Subject, ratelimit.KindTPM, capacity, rate, amount) {
			dec := &Decision{
				Reason:     fmt.Sprintf("Token rate limit exceeded: %d tokens per minute", limits.TokensPerMinute),
				RetryAfter: g.buckets.TimeUntilAvailable(req.Subject, ratelimit.KindTPM, capacity, rate, amount),
			}
			g.metrics.observeRejection(tierName, "tpm")
			return dec
		}
	}

	// The ledger read also feeds the usage snapshot below. A failed
	// read degrades to admitting without cost data rather than
	// rejecting on a bookkeeping error.
	summary, err := g.costs.SummaryFor(ctx, req.Subject)
	if err != nil {
		g.logger.Warn("cost summary unavailable during admission check",
			"subject", req.Subject, "error", err)
		summary = nil
	}

	if req.EstimatedCostUSD > 0 && summary != nil {
		if limits.DailyCostUSD > 0 && summary.DailyUSD >= limits.DailyCostUSD {
			g.metrics.observeRejection(tierName, "daily_cost")
			return &Decision{
				Reason:     fmt.Sprintf("Daily cost budget exceeded: $%.2f", limits.DailyCostUSD),
				RetryAfter: qs.DailyResetAt.Sub(now),
			}
		}
		if limits.MonthlyCostUSD > 0 && summary.MonthlyUSD >= limits.MonthlyCostUSD {
			g.metrics.observeRejection(tierName, "monthly_cost")
			return &Decision{
				Reason:     fmt.Sprintf("Monthly cost budget exceeded: $%.2f", limits.MonthlyCostUSD),
				RetryAfter: qs.MonthlyResetAt.Sub(now),
			}
		}
	}

	running := g.pool.CountForSubject(req.Subject)
	if limits.MaxConcurrent > 0 && running >= limits.MaxConcurrent {
		hint := retryHintFallback
		if avg := g.pool.Metrics().AvgExec; avg > 0 {
			hint = avg
		}
		g.metrics.observeRejection(tierName, "concurrency")
		return &Decision{
			Reason:     fmt.Sprintf("Concurrency limit exceeded: %d concurrent requests", limits.MaxConcurrent),
			RetryAfter: hint,
		}
	}

	usage := &Usage{
		Tier:                tierName,
		Limits:              limits,
		DailyRequestsUsed:   qs.DailyUsed,
		MonthlyRequestsUsed: qs.MonthlyUsed,
		DailyResetAt:        qs.DailyResetAt,
		MonthlyResetAt:      qs.MonthlyResetAt,
		ConcurrentRunning:   running,
	}
	if limits.RequestsPerMinute > 0 {
		capacity := float64(limits.RequestsPerMinute)
		usage.RPMRemaining = g.buckets.Level(req.Subject, ratelimit.KindRPM, capacity, capacity/60)
	}
	if limits.TokensPerMinute > 0 {
		capacity := float64(limits.TokensPerMinute)
		usage.TPMRemaining = g.buckets.Level(req.Subject, ratelimit.KindTPM, capacity, capacity/60)
	}

	dec := &Decision{Allowed: true, Usage: usage}
	if summary != nil {
		usage.DailyCostUSD = summary.DailyUSD
		usage.MonthlyCostUSD = summary.MonthlyUSD
		if limits.DailyCostUSD > 0 && summary.DailyUSD >= g.costAlertRatio*limits.DailyCostUSD {
			dec.CostAlert = true
		}
	}
	return dec
}

// RecordRequest reports consumption after the underlying call
// completed, successfully or not. Billing follows consumption, not
// outcome. Persistence failures are logged and swallowed; usage
// undercounting is preferred over failing the user-visible response.
// Returns the cost recorded.
func (g *Gate) RecordRequest(ctx context.Context, rec UsageRecord) float64 {
	g.quota.Increment(ctx, rec.Subject)

	costUSD, err := g.costs.Record(ctx, rec.Subject, rec.ConversationRef, rec.Channel, rec.Model, rec.InputTokens, rec.OutputTokens)
	if err != nil {
		g.logger.Warn("failed to record request cost",
			"subject", rec.Subject, "model", rec.Model, "error", err)
	}

	tierName, _ := g.policy.Resolve(rec.Subject)
	g.metrics.observeRecordedCost(tierName, rec.Model, costUSD)
	return costUSD
}

// Acquire takes a pool slot for the subject at its tier's priority.
// The started flag is false when the task queued instead.
func (g *Gate) Acquire(subject string) (taskID string, started bool) {
	_, limits := g.policy.Resolve(subject)
	return g.pool.Submit(subject, limits.Priority)
}

// Release returns the subject's pool slot.
func (g *Gate) Release(taskID string) {
	if err := g.pool.Complete(taskID); err != nil {
		g.logger.Warn("failed to release pool slot", "task_id", taskID, "error", err)
	}
}

// Execute runs the outbound call under the target's circuit breaker.
// The call's error is returned verbatim.
func (g *Gate) Execute(ctx context.Context, target string, fn func(context.Context) error) error {
	return g.breakers.Execute(ctx, target, fn)
}

// EstimateCost prices a prospective request without recording it.
func (g *Gate) EstimateCost(model string, inputTokens, outputTokens int) float64 {
	return g.costs.Calculate(model, inputTokens, outputTokens)
}

// Quota exposes the quota manager for administrative overrides.
func (g *Gate) Quota() *quota.Manager { return g.quota }

// Pool exposes the resource pool for direct submission by internal
// callers that can wait.
func (g *Gate) Pool() *pool.Pool { return g.pool }

// Breakers exposes the circuit breaker manager.
func (g *Gate) Breakers() *breaker.Manager { return g.breakers }

// Buckets exposes the token bucket registry for maintenance eviction.
func (g *Gate) Buckets() *ratelimit.Buckets { return g.buckets }

// Costs exposes the cost tracker for reporting.
func (g *Gate) Costs() *cost.Tracker { return g.costs }
