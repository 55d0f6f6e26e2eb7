// Package cost converts token usage into dollars and tracks spending
// per subject in an append-only ledger.
//
// Pricing is a per-model table of USD per million tokens with a
// longest-prefix family fallback and a conservative default for unknown
// models. Aggregates (daily, monthly, lifetime, per-model) are computed
// by range queries over the ledger rather than cached, which keeps them
// consistent under concurrent writers and after restarts.
package cost
