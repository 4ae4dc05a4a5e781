// Package main hosts the reelsmith CLI entrypoint and command graph.
//
// Commands talk to a running daemon over its HTTP API when one holds the
// instance lock, and otherwise build the same components in-process while
// holding that lock themselves. Configuration resolution, table rendering,
// and JSON output live here; the work itself belongs to internal packages.
package main
