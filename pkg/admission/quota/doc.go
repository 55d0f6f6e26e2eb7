// Package quota enforces daily and monthly request ceilings per subject.
//
// Unlike the rolling windows used for rate limiting, quotas are
// calendar-aligned: the daily counter resets at UTC midnight and the
// monthly counter on the first of the next UTC month. Resets happen
// lazily on the next check or increment after the boundary passes.
//
// Counters are persisted through storage.CounterStore so a restart does
// not grant a fresh quota.
package quota
