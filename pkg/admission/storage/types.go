package storage

import (
	"context"
	"time"
)

// QuotaRecord is the persisted daily/monthly request counter state for
// one subject. Counters reset lazily when the current time crosses the
// stored reset boundary.
type QuotaRecord struct {
	// Subject is the identity the record belongs to.
	Subject string

	// DailyCount is the number of admitted requests since DailyResetAt
	// was last recomputed.
	DailyCount int64

	// DailyResetAt is the next UTC midnight boundary.
	DailyResetAt time.Time

	// MonthlyCount is the number of admitted requests this UTC month.
	MonthlyCount int64

	// MonthlyResetAt is the first of the next UTC month.
	MonthlyResetAt time.Time

	// UpdatedAt is when this record was last written.
	UpdatedAt time.Time
}

// CostEntry is one immutable row in the append-only cost ledger.
// Aggregates are always derived by range queries over these rows, never
// stored redundantly, so concurrent writers cannot cause drift.
type CostEntry struct {
	// ID uniquely identifies the entry.
	ID string

	// Subject is the identity that consumed the tokens.
	Subject string

	// ConversationRef links the entry to a conversation or session.
	ConversationRef string

	// Model is the LLM model that served the request.
	Model string

	// Channel is the interface channel (api, telegram, discord, web...).
	Channel string

	// InputTokens is the prompt token count.
	InputTokens int

	// OutputTokens is the completion token count.
	OutputTokens int

	// CostUSD is the computed cost for this request.
	CostUSD float64

	// Timestamp is when the usage was recorded.
	Timestamp time.Time
}

// CounterStore persists per-subject quota records. Implementations must
// be safe for concurrent use and support atomic read-modify-write per
// subject key.
type CounterStore interface {
	// LoadQuota returns the record for a subject, or nil if none exists.
	LoadQuota(ctx context.Context, subject string) (*QuotaRecord, error)

	// SaveQuota upserts the record for rec.Subject.
	SaveQuota(ctx context.Context, rec *QuotaRecord) error

	// DeleteQuota removes the record for a subject. No-op if absent.
	DeleteQuota(ctx context.Context, subject string) error

	// Close releases backend resources.
	Close() error
}

// Ledger persists append-only cost entries and answers time-ranged
// aggregate queries over them.
type Ledger interface {
	// Append writes one cost entry. Entries are never updated or
	// rewritten afterwards.
	Append(ctx context.Context, entry *CostEntry) error

	// SumRange returns the total cost for a subject in [from, to).
	// A zero from means "from the beginning of the ledger".
	SumRange(ctx context.Context, subject string, from, to time.Time) (float64, error)

	// SumByModel returns lifetime per-model cost totals for a subject.
	SumByModel(ctx context.Context, subject string) (map[string]float64, error)

	// CountRange returns the number of entries for a subject in [from, to).
	CountRange(ctx context.Context, subject string, from, to time.Time) (int64, error)

	// Prune deletes entries older than the cutoff and returns how many
	// were removed.
	Prune(ctx context.Context, olderThan time.Time) (int, error)

	// Close releases backend resources.
	Close() error
}
