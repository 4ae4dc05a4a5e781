// Package store mirrors batch and composition status into SQLite so the
// daemon, HTTP API, and CLI can report on work after a restart.
//
// Documents are JSON bodies keyed by (kind, episode id). An in-memory cache
// holds the last persisted document per key; reads are served from it once a
// key has been written or loaded. Completed generation jobs are kept in a
// separate table and replayed into the batch manager's idempotence cache on
// startup.
package store
