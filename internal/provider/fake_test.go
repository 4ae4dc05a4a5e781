package provider

import (
	"context"
	"fmt"
	"sync"

	"reelsmith/internal/generation"
	"reelsmith/internal/services"
)

// fakeProvider scripts submit and poll responses for dispatcher tests.
type fakeProvider struct {
	profile generation.Profile

	mu          sync.Mutex
	submitErrs  []error
	polls       []PollResult
	pollErrs    []error
	asset       string
	submits     int
	pollCalls   int
	cancels     int
	lastPrompt  string
	blockOnPoll chan struct{}
}

func newFakeProvider(id string, cost float64) *fakeProvider {
	return &fakeProvider{
		profile: generation.Profile{
			ID:                   id,
			Kind:                 "runway",
			Tier:                 generation.TierStandard,
			MaxDurationSeconds:   10,
			SupportedResolutions: []string{"1280x720", "1920x1080"},
			MaxConcurrentJobs:    2,
			CostPerSecond:        cost,
			MaxPromptLength:      200,
			PromptStyle:          generation.PromptNatural,
		},
		asset: "https://cdn.example/" + id + ".mp4",
	}
}

func (f *fakeProvider) Profile() generation.Profile { return f.profile }

func (f *fakeProvider) Submit(_ context.Context, sub Submission) (generation.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submits++
	f.lastPrompt = sub.Prompt
	if len(f.submitErrs) > 0 {
		err := f.submitErrs[0]
		f.submitErrs = f.submitErrs[1:]
		if err != nil {
			return generation.Handle{}, err
		}
	}
	return generation.Handle{ProviderID: f.profile.ID, Token: fmt.Sprintf("%s-task-%d", f.profile.ID, f.submits)}, nil
}

func (f *fakeProvider) PollStatus(ctx context.Context, _ generation.Handle) (PollResult, error) {
	f.mu.Lock()
	f.pollCalls++
	block := f.blockOnPoll
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return PollResult{}, &services.Error{Kind: services.KindCancelled, Cause: ctx.Err()}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pollErrs) > 0 {
		err := f.pollErrs[0]
		f.pollErrs = f.pollErrs[1:]
		if err != nil {
			return PollResult{}, err
		}
	}
	if len(f.polls) == 0 {
		return PollResult{Status: generation.StatusPolling}, nil
	}
	res := f.polls[0]
	if len(f.polls) > 1 {
		f.polls = f.polls[1:]
	}
	return res, nil
}

func (f *fakeProvider) FetchResult(context.Context, generation.Handle) (string, error) {
	return f.asset, nil
}

func (f *fakeProvider) Cancel(context.Context, generation.Handle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels++
	return nil
}

func (f *fakeProvider) counts() (submits, polls, cancels int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submits, f.pollCalls, f.cancels
}
