// Package services defines shared utilities consumed by the generation,
// composition, and episode packages.
//
// Key responsibilities:
//   - Context helpers that stamp episode, job, batch, phase, and provider
//     identifiers for logging and tracing.
//   - The error taxonomy (transient, capability, fatal, configuration,
//     validation, timeout, cancelled, exhausted-retries) with sentinel markers,
//     the structured Error type, and the Wrap helper used across the tree.
//   - Describe, which renders the operator-facing summary of a failure.
//
// Classify errors here rather than in callers so retry and resume decisions
// stay uniform across the pipeline.
package services
