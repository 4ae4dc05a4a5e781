// Package prompt rewrites provider-neutral shot descriptions into each
// provider's prompt convention and scores the result. Both Optimize and Score
// are pure functions so their output can be pinned with golden files.
package prompt
