// Package generation holds the shared value types of the video generation
// pipeline: requests, provider profiles, jobs, and their monotonic status
// lifecycle. Provider-specific fields never appear here.
package generation
