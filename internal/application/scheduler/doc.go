// Package scheduler implements a priority task queue with bounded
// concurrency, dependency gating and retry with exponential backoff.
//
// Tasks run on their own goroutines up to a configurable concurrency
// limit. Failed tasks are requeued as derived retry entries until their
// retry budget is exhausted.
package scheduler
