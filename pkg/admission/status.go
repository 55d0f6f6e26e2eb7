package admission

import (
	"context"

	"mercator-hq/ganymede/pkg/admission/pool"
	"mercator-hq/ganymede/pkg/admission/ratelimit"
)

// SubjectStatus is the read model for one subject, intended for a
// status endpoint or dashboard.
type SubjectStatus struct {
	Usage    *Usage             `json:"usage"`
	Breakers map[string]string  `json:"breakers"`
	Pool     pool.Metrics       `json:"pool"`
	ByModel  map[string]float64 `json:"cost_by_model"`
}

// Status assembles the subject's current usage without consuming any
// limits. Unlike CheckLimit, this is a pure read.
func (g *Gate) Status(ctx context.Context, subject string) (*SubjectStatus, error) {
	tierName, limits := g.policy.Resolve(subject)

	qs := g.quota.Check(ctx, subject, 0, 0)
	summary, err := g.costs.SummaryFor(ctx, subject)
	if err != nil {
		return nil, err
	}

	usage := &Usage{
		Tier:                tierName,
		Limits:              limits,
		DailyRequestsUsed:   qs.DailyUsed,
		MonthlyRequestsUsed: qs.MonthlyUsed,
		DailyResetAt:        qs.DailyResetAt,
		MonthlyResetAt:      qs.MonthlyResetAt,
		DailyCostUSD:        summary.DailyUSD,
		MonthlyCostUSD:      summary.MonthlyUSD,
		ConcurrentRunning:   g.pool.CountForSubject(subject),
	}
	if limits.RequestsPerMinute > 0 {
		capacity := float64(limits.RequestsPerMinute)
		usage.RPMRemaining = g.buckets.Level(subject, ratelimit.KindRPM, capacity, capacity/60)
	}
	if limits.TokensPerMinute > 0 {
		capacity := float64(limits.TokensPerMinute)
		usage.TPMRemaining = g.buckets.Level(subject, ratelimit.KindTPM, capacity, capacity/60)
	}

	breakers := make(map[string]string)
	for target, state := range g.breakers.States() {
		breakers[target] = state.String()
	}

	return &SubjectStatus{
		Usage:    usage,
		Breakers: breakers,
		Pool:     g.pool.Metrics(),
		ByModel:  summary.ByModel,
	}, nil
}
