// Package logging assembles structured slog loggers and formatting helpers used
// across reelsmith services.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context-aware helpers so generation, composition, and episode code
// can tag log lines with episode, job, phase, and correlation IDs. The package
// also provides a no-op logger for tests and wiring code that cannot fail.
package logging
