package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-memory CounterStore and Ledger for tests and
// single-process embedders that do not need durability.
type MemoryStore struct {
	mu      sync.RWMutex
	quotas  map[string]*QuotaRecord
	entries []*CostEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		quotas: make(map[string]*QuotaRecord),
	}
}

// LoadQuota implements CounterStore.
func (m *MemoryStore) LoadQuota(_ context.Context, subject string) (*QuotaRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.quotas[subject]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

// SaveQuota implements CounterStore.
func (m *MemoryStore) SaveQuota(_ context.Context, rec *QuotaRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.quotas[rec.Subject] = &cp
	return nil
}

// DeleteQuota implements CounterStore.
func (m *MemoryStore) DeleteQuota(_ context.Context, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.quotas, subject)
	return nil
}

// Append implements Ledger.
func (m *MemoryStore) Append(_ context.Context, entry *CostEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *entry
	m.entries = append(m.entries, &cp)
	return nil
}

// SumRange implements Ledger.
func (m *MemoryStore) SumRange(_ context.Context, subject string, from, to time.Time) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var sum float64
	for _, e := range m.entries {
		if e.Subject != subject {
			continue
		}
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !e.Timestamp.Before(to) {
			continue
		}
		sum += e.CostUSD
	}
	return sum, nil
}

// SumByModel implements Ledger.
func (m *MemoryStore) SumByModel(_ context.Context, subject string) (map[string]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	totals := make(map[string]float64)
	for _, e := range m.entries {
		if e.Subject == subject {
			totals[e.Model] += e.CostUSD
		}
	}
	return totals, nil
}

// CountRange implements Ledger.
func (m *MemoryStore) CountRange(_ context.Context, subject string, from, to time.Time) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, e := range m.entries {
		if e.Subject != subject {
			continue
		}
		if !from.IsZero() && e.Timestamp.Before(from) {
			continue
		}
		if !e.Timestamp.Before(to) {
			continue
		}
		n++
	}
	return n, nil
}

// Prune implements Ledger.
func (m *MemoryStore) Prune(_ context.Context, olderThan time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.entries[:0]
	deleted := 0
	for _, e := range m.entries {
		if e.Timestamp.Before(olderThan) {
			deleted++
			continue
		}
		kept = append(kept, e)
	}
	m.entries = kept
	return deleted, nil
}

// Close implements CounterStore and Ledger.
func (m *MemoryStore) Close() error {
	return nil
}
