package tier

import (
	"fmt"
	"sort"
	"sync"
)

// Tier is a named subscription plan mapping to a fixed policy bundle.
type Tier string

const (
	// TierFree is the default entry-level plan.
	TierFree Tier = "free"

	// TierPro is the paid individual plan.
	TierPro Tier = "pro"

	// TierEnterprise is the highest plan with the loosest limits.
	TierEnterprise Tier = "enterprise"
)

// Limits is the policy bundle assigned to a tier. Zero values mean
// "no limit" for that dimension, matching how the rate limiter treats
// unconfigured limits.
type Limits struct {
	// RequestsPerMinute caps inbound requests per minute (token bucket).
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// TokensPerMinute caps LLM tokens per minute (token bucket).
	TokensPerMinute int `yaml:"tokens_per_minute"`

	// DailyRequests caps requests per UTC day.
	DailyRequests int64 `yaml:"daily_requests"`

	// MonthlyRequests caps requests per UTC calendar month.
	MonthlyRequests int64 `yaml:"monthly_requests"`

	// DailyCostUSD caps spend per UTC day.
	DailyCostUSD float64 `yaml:"daily_cost_usd"`

	// MonthlyCostUSD caps spend per UTC calendar month.
	MonthlyCostUSD float64 `yaml:"monthly_cost_usd"`

	// MaxConcurrent caps simultaneous executions held by one subject.
	MaxConcurrent int `yaml:"max_concurrent"`

	// Priority orders queued work in the resource pool (higher runs first).
	Priority int `yaml:"priority"`
}

// Resolver maps a subject to its tier. Implementations are expected to
// be cheap; the gate calls this on every admission check.
type Resolver interface {
	TierOf(subject string) Tier
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(subject string) Tier

// TierOf implements Resolver.
func (f ResolverFunc) TierOf(subject string) Tier { return f(subject) }

// Policy holds the tier table and resolver behind a single lock so both
// can be hot-swapped without restarting consumers. Reads vastly outnumber
// swaps, hence the RWMutex.
type Policy struct {
	mu          sync.RWMutex
	table       map[Tier]Limits
	resolver    Resolver
	defaultTier Tier
}

// NewPolicy creates a policy from a tier table and resolver. The default
// tier is used when the resolver returns a tier absent from the table.
func NewPolicy(table map[Tier]Limits, resolver Resolver, defaultTier Tier) (*Policy, error) {
	if err := ValidateTable(table); err != nil {
		return nil, err
	}
	if _, ok := table[defaultTier]; !ok {
		return nil, fmt.Errorf("default tier %q not present in table", defaultTier)
	}
	if resolver == nil {
		resolver = ResolverFunc(func(string) Tier { return defaultTier })
	}
	return &Policy{table: table, resolver: resolver, defaultTier: defaultTier}, nil
}

// Resolve returns the tier and limits for a subject. Unknown tiers fall
// back to the default tier so a stale resolver cannot take down admission.
func (p *Policy) Resolve(subject string) (Tier, Limits) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	t := p.resolver.TierOf(subject)
	limits, ok := p.table[t]
	if !ok {
		t = p.defaultTier
		limits = p.table[t]
	}
	return t, limits
}

// LimitsFor returns the limits for a tier and whether the tier exists.
func (p *Policy) LimitsFor(t Tier) (Limits, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	l, ok := p.table[t]
	return l, ok
}

// SwapTable replaces the tier table. The new table is validated first;
// an invalid table leaves the current one in place.
func (p *Policy) SwapTable(table map[Tier]Limits) error {
	if err := ValidateTable(table); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := table[p.defaultTier]; !ok {
		return fmt.Errorf("default tier %q not present in new table", p.defaultTier)
	}
	p.table = table
	return nil
}

// SwapResolver replaces the subject-to-tier resolver.
func (p *Policy) SwapResolver(r Resolver) {
	if r == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resolver = r
}

// NextTier returns the next tier up from t, ordered by monthly request
// ceiling, for upsell hints. Returns "" when t is already the top tier.
func (p *Policy) NextTier(t Tier) Tier {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if _, ok := p.table[t]; !ok {
		return ""
	}

	type entry struct {
		tier   Tier
		weight int64
	}
	entries := make([]entry, 0, len(p.table))
	for name, l := range p.table {
		entries = append(entries, entry{name, l.MonthlyRequests})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].weight != entries[j].weight {
			// Zero means unlimited, sort it last.
			if entries[i].weight == 0 {
				return false
			}
			if entries[j].weight == 0 {
				return true
			}
			return entries[i].weight < entries[j].weight
		}
		return entries[i].tier < entries[j].tier
	})

	for i, e := range entries {
		if e.tier == t && i+1 < len(entries) {
			return entries[i+1].tier
		}
	}
	return ""
}

// ValidateTable rejects tables with negative limits or no tiers.
func ValidateTable(table map[Tier]Limits) error {
	if len(table) == 0 {
		return fmt.Errorf("tier table is empty")
	}
	for name, l := range table {
		if l.RequestsPerMinute < 0 || l.TokensPerMinute < 0 ||
			l.DailyRequests < 0 || l.MonthlyRequests < 0 ||
			l.DailyCostUSD < 0 || l.MonthlyCostUSD < 0 ||
			l.MaxConcurrent < 0 {
			return fmt.Errorf("tier %q has a negative limit", name)
		}
	}
	return nil
}

// DefaultTable returns the built-in three-tier table. Deployments
// override it via configuration; the values here are example policy
// inputs, not pricing commitments.
func DefaultTable() map[Tier]Limits {
	return map[Tier]Limits{
		TierFree: {
			RequestsPerMinute: 3,
			TokensPerMinute:   10000,
			DailyRequests:     50,
			MonthlyRequests:   500,
			DailyCostUSD:      1.00,
			MonthlyCostUSD:    10.00,
			MaxConcurrent:     1,
			Priority:          1,
		},
		TierPro: {
			RequestsPerMinute: 30,
			TokensPerMinute:   200000,
			DailyRequests:     1000,
			MonthlyRequests:   15000,
			DailyCostUSD:      25.00,
			MonthlyCostUSD:    300.00,
			MaxConcurrent:     5,
			Priority:          5,
		},
		TierEnterprise: {
			RequestsPerMinute: 120,
			TokensPerMinute:   1000000,
			DailyRequests:     20000,
			MonthlyRequests:   400000,
			DailyCostUSD:      500.00,
			MonthlyCostUSD:    10000.00,
			MaxConcurrent:     20,
			Priority:          10,
		},
	}
}
