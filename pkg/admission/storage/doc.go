// Package storage provides persistence for the admission layer: a
// CounterStore for per-subject quota records and an append-only Ledger
// for cost entries.
//
// The layer assumes nothing about the backing technology beyond atomic
// read-modify-write per subject key and time-ranged scans. Three
// implementations ship:
//
//   - MemoryStore: both interfaces, for tests and ephemeral embedders
//   - SQLiteCounterStore: durable quota counters (modernc.org/sqlite)
//   - SQLiteLedger: durable cost ledger (mattn/go-sqlite3)
//
// Cost aggregates are never cached in the store; they are recomputed
// from ledger rows on every query so a missed write can undercount but
// never double-count after a restart.
package storage
