// Package maintenance schedules background housekeeping for the
// admission layer: cost ledger retention pruning and idle token bucket
// eviction, both on cron schedules.
package maintenance
