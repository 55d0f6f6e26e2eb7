// Package tier defines subscription tiers and the policy limits bound to
// them.
//
// A Tier is a named plan (free, pro, enterprise) mapping to a Limits
// bundle: request and token rates, daily/monthly request ceilings, cost
// budgets, concurrency, and scheduling priority. Tiers are static
// configuration; they are never created or destroyed at runtime, but the
// table itself and the subject-to-tier resolver are hot-swappable through
// Policy without restarting the admission layer.
//
// The table can be loaded from a YAML file with LoadTable and kept fresh
// with Watcher, which reloads on file change.
package tier
