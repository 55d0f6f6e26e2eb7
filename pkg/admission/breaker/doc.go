// Package breaker isolates failing call targets with a three-state
// circuit: closed, open, half-open.
//
// Failures within a rolling window trip the circuit open; after a
// cooldown the next call probes the target (lazy transition, no
// timer goroutine), and enough consecutive probe successes close it
// again. The breaker never transforms or suppresses errors from the
// wrapped call; it only gates whether the call happens.
package breaker
