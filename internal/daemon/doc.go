// Package daemon coordinates the long-running reelsmith process.
//
// It wires configuration, the status store, the provider registry, the batch
// manager, and the episode coordinator into a single lifecycle with
// flock-based locking to prevent multiple instances. The daemon implements the
// HTTP API backend, schedules assemblies in the background, primes the
// generation cache from earlier runs, and owns the notification hooks.
//
// Keep orchestration logic here: generation, composition, and assembly live in
// their own packages while the daemon focuses on startup, shutdown, and high
// level coordination.
package daemon
