// Package admission is the decision point for whether a request may
// proceed before it consumes downstream resources.
//
// The Gate composes token buckets, calendar quotas, cost budgets, and
// the execution pool into one short-circuiting check, and wraps
// outbound calls in per-target circuit breakers. Rejections come back
// as structured decisions with retry hints, never as errors, so
// callers render them without exception handling.
//
// # Example
//
//	gate, err := admission.New(admission.Options{
//	    Policy:       policy,
//	    CounterStore: store,
//	    Ledger:       ledger,
//	})
//
//	dec := gate.CheckLimit(ctx, admission.Request{
//	    Subject:         userID,
//	    Channel:         "api",
//	    EstimatedTokens: 2000,
//	})
//	if !dec.Allowed {
//	    // Render dec.Message, honor dec.RetryAfter.
//	}
//
//	taskID, _ := gate.Acquire(userID)
//	err = gate.Execute(ctx, "anthropic", callProvider)
//	gate.Release(taskID)
//	gate.RecordRequest(ctx, admission.UsageRecord{...})
package admission
