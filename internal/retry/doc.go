// Package retry implements the bounded exponential backoff executor shared by
// provider, audio, and notification clients. Errors are classified through the
// services taxonomy: transient failures retry, timeouts retry a limited number
// of times, and everything else returns immediately.
package retry
