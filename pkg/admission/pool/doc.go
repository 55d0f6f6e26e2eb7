// Package pool bounds concurrent execution with a priority queue.
//
// Running count never exceeds capacity. Queued tasks are released in
// priority order with FIFO ties, and promotion on completion happens
// in the same critical section as the release so slots are never
// double-granted or leaked. Per-subject occupancy is counted by
// task-id prefix rather than a sub-pool per subject.
package pool
