package quota

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"mercator-hq/ganymede/pkg/admission/storage"
	"mercator-hq/ganymede/pkg/clock"
)

// Status is the result of a quota check.
type Status struct {
	// Allowed indicates whether the request fits within both ceilings.
	Allowed bool

	// Reason explains the rejection (if Allowed=false).
	Reason string

	// DailyUsed and MonthlyUsed are the current counters.
	DailyUsed   int64
	MonthlyUsed int64

	// DailyLimit and MonthlyLimit are the tier ceilings (0 = unlimited).
	DailyLimit   int64
	MonthlyLimit int64

	// DailyResetAt and MonthlyResetAt are the next boundary crossings.
	DailyResetAt   time.Time
	MonthlyResetAt time.Time
}

// Manager tracks daily and monthly request counters per subject against
// calendar boundaries: counters reset when the current time crosses the
// stored boundary (UTC midnight, first of next UTC month), at which
// point the next boundary is recomputed.
//
// Records are held in memory with one lock per subject and persisted to
// a CounterStore so quotas survive restarts. Persistence happens outside
// the per-subject lock; a failed persist is logged and swallowed, since
// undercounting is preferred over blocking admission on bookkeeping.
type Manager struct {
	store  storage.CounterStore
	clk    clock.Clock
	logger *slog.Logger

	mu       sync.Mutex
	subjects map[string]*subjectQuota
}

// subjectQuota serializes all mutations of one subject's record.
type subjectQuota struct {
	mu     sync.Mutex
	loaded bool
	rec    storage.QuotaRecord
}

// NewManager creates a quota manager backed by the given store.
func NewManager(store storage.CounterStore, clk clock.Clock, logger *slog.Logger) *Manager {
	if clk == nil {
		clk = clock.System
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:    store,
		clk:      clk,
		logger:   logger.With("component", "admission.quota"),
		subjects: make(map[string]*subjectQuota),
	}
}

// Check compares the subject's counters against the daily and monthly
// ceilings, lazily resetting counters whose boundary has passed. A zero
// ceiling means unlimited for that window.
func (m *Manager) Check(ctx context.Context, subject string, dailyLimit, monthlyLimit int64) *Status {
	sq := m.subjectLocked(subject)

	sq.mu.Lock()
	m.ensureLoadedLocked(ctx, subject, sq)
	m.rolloverLocked(sq)
	rec := sq.rec
	sq.mu.Unlock()

	status := &Status{
		Allowed:        true,
		DailyUsed:      rec.DailyCount,
		MonthlyUsed:    rec.MonthlyCount,
		DailyLimit:     dailyLimit,
		MonthlyLimit:   monthlyLimit,
		DailyResetAt:   rec.DailyResetAt,
		MonthlyResetAt: rec.MonthlyResetAt,
	}

	if dailyLimit > 0 && rec.DailyCount >= dailyLimit {
		status.Allowed = false
		status.Reason = "daily quota exceeded"
		return status
	}
	if monthlyLimit > 0 && rec.MonthlyCount >= monthlyLimit {
		status.Allowed = false
		status.Reason = "monthly quota exceeded"
		return status
	}

	return status
}

// Increment adds one admitted request to both counters. It is called
// only after a request has been admitted, regardless of whether the
// downstream call later succeeds: quota reflects consumption, not
// outcome.
func (m *Manager) Increment(ctx context.Context, subject string) {
	sq := m.subjectLocked(subject)

	sq.mu.Lock()
	m.ensureLoadedLocked(ctx, subject, sq)
	m.rolloverLocked(sq)
	sq.rec.DailyCount++
	sq.rec.MonthlyCount++
	sq.rec.UpdatedAt = m.clk.Now()
	rec := sq.rec
	sq.mu.Unlock()

	m.persist(ctx, &rec)
}

// Reset zeroes the subject's counters and recomputes both boundaries.
// Administrative override.
func (m *Manager) Reset(ctx context.Context, subject string) {
	sq := m.subjectLocked(subject)

	sq.mu.Lock()
	now := m.clk.Now().UTC()
	sq.loaded = true
	sq.rec = storage.QuotaRecord{
		Subject:        subject,
		DailyResetAt:   nextUTCMidnight(now),
		MonthlyResetAt: firstOfNextUTCMonth(now),
		UpdatedAt:      now,
	}
	rec := sq.rec
	sq.mu.Unlock()

	m.persist(ctx, &rec)
}

// subjectLocked returns the serialization cell for a subject, creating
// it if needed.
func (m *Manager) subjectLocked(subject string) *subjectQuota {
	m.mu.Lock()
	defer m.mu.Unlock()

	sq, ok := m.subjects[subject]
	if !ok {
		sq = &subjectQuota{}
		m.subjects[subject] = sq
	}
	return sq
}

// ensureLoadedLocked pulls the persisted record on first access so
// counters survive restarts. Caller must hold sq.mu.
func (m *Manager) ensureLoadedLocked(ctx context.Context, subject string, sq *subjectQuota) {
	if sq.loaded {
		return
	}
	sq.loaded = true

	now := m.clk.Now().UTC()
	sq.rec = storage.QuotaRecord{
		Subject:        subject,
		DailyResetAt:   nextUTCMidnight(now),
		MonthlyResetAt: firstOfNextUTCMonth(now),
	}

	if m.store == nil {
		return
	}
	persisted, err := m.store.LoadQuota(ctx, subject)
	if err != nil {
		m.logger.Warn("failed to load quota record, starting fresh",
			"subject", subject,
			"error", err,
		)
		return
	}
	if persisted != nil {
		sq.rec = *persisted
	}
}

// rolloverLocked resets counters whose boundary has passed and
// recomputes the next boundary. Caller must hold sq.mu.
func (m *Manager) rolloverLocked(sq *subjectQuota) {
	now := m.clk.Now().UTC()

	if !now.Before(sq.rec.DailyResetAt) {
		sq.rec.DailyCount = 0
		sq.rec.DailyResetAt = nextUTCMidnight(now)
	}
	if !now.Before(sq.rec.MonthlyResetAt) {
		sq.rec.MonthlyCount = 0
		sq.rec.MonthlyResetAt = firstOfNextUTCMonth(now)
	}
}

// persist writes the record to the store. Errors are logged and
// swallowed; see the Manager doc.
func (m *Manager) persist(ctx context.Context, rec *storage.QuotaRecord) {
	if m.store == nil {
		return
	}
	if err := m.store.SaveQuota(ctx, rec); err != nil {
		m.logger.Warn("failed to persist quota record",
			"subject", rec.Subject,
			"error", err,
		)
	}
}

// nextUTCMidnight returns the first instant of the next UTC day.
func nextUTCMidnight(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, 1)
}

// firstOfNextUTCMonth returns the first instant of the next UTC month.
func firstOfNextUTCMonth(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
}
