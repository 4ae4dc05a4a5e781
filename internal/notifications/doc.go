// Package notifications delivers episode and batch events via pluggable notifiers.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and gracefully degrades to a no-op when notifications are
// disabled. Each event family can be switched off independently so a noisy
// batch workload does not drown out episode completions.
//
// Coordinator code never calls the transport directly: EpisodeSubscriber turns
// progress events into notifications and BatchFinished is installed as the
// batch manager's completion hook.
package notifications
