package provider

import (
	"context"

	"reelsmith/internal/generation"
)

// Submission is what a provider receives on submit: the immutable request plus
// the prompt already tuned for that provider.
type Submission struct {
	JobID      string
	Request    generation.Request
	Prompt     string
	Resolution string
}

// PollResult is a provider's status normalized into the shared vocabulary.
// Status is one of submitted, polling, completed, failed, or cancelled.
type PollResult struct {
	Status   generation.Status
	Progress float64
	AssetURL string
	// Err explains a failed status, already classified.
	Err error
}

// Provider is implemented once per external video generation backend. No
// backend-specific type crosses this interface.
type Provider interface {
	Profile() generation.Profile
	Submit(ctx context.Context, sub Submission) (generation.Handle, error)
	PollStatus(ctx context.Context, h generation.Handle) (PollResult, error)
	FetchResult(ctx context.Context, h generation.Handle) (string, error)
	Cancel(ctx context.Context, h generation.Handle) error
}
