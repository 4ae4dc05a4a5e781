// Package daemonctl lets CLI commands find and drive a running daemon.
//
// Running probes the instance lock rather than the API port, so a daemon
// started with the API disabled is still detected and one-shot commands do
// not race it for the status store.
package daemonctl
