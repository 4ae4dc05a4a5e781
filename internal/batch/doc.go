// Package batch runs many generation requests against the provider pool
// while honouring per-provider and global concurrency limits.
//
// A single scheduler goroutine per run owns the admission counters; workers
// report completion over a channel so a freed slot is reused immediately.
// Failures never abort the batch: every request ends in its own terminal state.
package batch
