package provider

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"reelsmith/internal/config"
	"reelsmith/internal/generation"
	"reelsmith/internal/logging"
	"reelsmith/internal/prompt"
	"reelsmith/internal/retry"
	"reelsmith/internal/services"
)

const defaultPollBudget = 30 * time.Minute

// Options tunes the dispatcher's polling and fallback behaviour.
type Options struct {
	Retry            retry.Options
	PollInterval     time.Duration
	PollBudgetFactor float64
	PollMargin       time.Duration
	Fallback         bool
	CancelTimeout    time.Duration
	Now              func() time.Time
}

// OptionsFromConfig derives dispatcher options from the [batch] and [retry] sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Retry:            retry.FromConfig(cfg.Retry),
		PollInterval:     time.Duration(cfg.Batch.PollIntervalSeconds * float64(time.Second)),
		PollBudgetFactor: cfg.Batch.PollBudgetFactor,
		PollMargin:       time.Duration(cfg.Batch.PollTimeoutMarginSeconds) * time.Second,
		Fallback:         cfg.Batch.Fallback,
	}
}

// Observer receives a copy of the job after every state change.
type Observer func(job *generation.Job)

// Dispatcher drives generation jobs through a provider: prompt tuning, submit,
// timer-driven polling within a wall-clock budget, and result fetch. Every
// remote call goes through the retry executor and the provider's rate limiter.
type Dispatcher struct {
	registry *Registry
	opts     Options
	logger   *slog.Logger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewDispatcher constructs a dispatcher over registry.
func NewDispatcher(registry *Registry, opts Options, logger *slog.Logger) *Dispatcher {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 5 * time.Second
	}
	if opts.PollBudgetFactor <= 0 {
		opts.PollBudgetFactor = 30
	}
	if opts.CancelTimeout <= 0 {
		opts.CancelTimeout = 15 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Dispatcher{
		registry: registry,
		opts:     opts,
		logger:   logging.NewComponentLogger(logger, "provider"),
		limiters: make(map[string]*rate.Limiter),
	}
}

// Registry exposes the provider lookup table.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// FallbackEnabled reports whether capability failures may move to another provider.
func (d *Dispatcher) FallbackEnabled() bool {
	return d.opts.Fallback
}

// Generate runs job to a terminal state: the selected provider first and, on a
// capability failure, at most one alternate provider.
func (d *Dispatcher) Generate(ctx context.Context, job *generation.Job, observe Observer) error {
	err := d.generate(ctx, job, observe)
	if err != nil {
		if failErr := job.Fail(err, d.opts.Now()); failErr == nil {
			notify(observe, job)
		}
	}
	return err
}

func (d *Dispatcher) generate(ctx context.Context, job *generation.Job, observe Observer) error {
	if err := job.Request.Validate(); err != nil {
		return err
	}
	primary, err := d.registry.Select(job.Request)
	if err != nil {
		return err
	}
	err = d.Attempt(ctx, job, primary, observe)
	if err == nil || services.KindOf(err) != services.KindCapability || !d.opts.Fallback {
		return err
	}
	alt, ok := d.registry.Fallback(job.Request, job.TriedProviders())
	if !ok {
		return err
	}
	d.logger.Info("capability failure, falling back",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("from_provider", primary.Profile().ID),
		logging.String("to_provider", alt.Profile().ID),
		logging.String(logging.FieldEventType, "provider_fallback"),
	)
	return d.Attempt(ctx, job, alt, observe)
}

// Attempt runs one provider attempt for job. On success the job is completed;
// on failure the attempt is recorded and the job is left non-terminal so the
// caller can decide between fallback and failure. An invalid request fails
// with ErrValidation before any attempt is recorded.
func (d *Dispatcher) Attempt(ctx context.Context, job *generation.Job, p Provider, observe Observer) error {
	// Malformed requests never reach a provider.
	if err := job.Request.Validate(); err != nil {
		return err
	}
	profile := p.Profile()
	ctx = services.WithProvider(services.WithJobID(ctx, job.ID), profile.ID)

	text := prompt.Optimize(prompt.FromRequest(job.Request), profile)
	score := prompt.Score(text, profile)
	job.ProviderID = profile.ID
	job.QualityScore = score
	job.Attempts = append(job.Attempts, generation.Attempt{
		ProviderID:   profile.ID,
		Prompt:       text,
		QualityScore: score,
		StartedAt:    d.opts.Now(),
	})

	m := &attemptMachine{
		d:       d,
		p:       p,
		profile: profile,
		job:     job,
		index:   len(job.Attempts) - 1,
		observe: observe,
		logger:  logging.WithContext(ctx, d.logger),
		sub: Submission{
			JobID:      job.ID,
			Request:    job.Request,
			Prompt:     text,
			Resolution: resolutionFor(job.Request, profile),
		},
	}
	if err := profile.Supports(job.Request); err != nil {
		return m.finish(generation.StatusFailed, err)
	}
	asset, err := m.run(ctx)
	if err != nil {
		outcome := generation.StatusFailed
		if services.KindOf(err) == services.KindCancelled {
			outcome = generation.StatusCancelled
		}
		return m.finish(outcome, err)
	}
	if err := job.Complete(asset, d.opts.Now()); err != nil {
		return m.finish(generation.StatusFailed, err)
	}
	_ = m.finish(generation.StatusCompleted, nil)
	notify(observe, job)
	return nil
}

// PollBudget is the wall-clock limit for one provider job.
func (d *Dispatcher) PollBudget(profile generation.Profile) time.Duration {
	budget := time.Duration(profile.MaxDurationSeconds*d.opts.PollBudgetFactor*float64(time.Second)) + d.opts.PollMargin
	if budget <= 0 {
		return defaultPollBudget
	}
	return budget
}

func (d *Dispatcher) limiter(profile generation.Profile) *rate.Limiter {
	if profile.RequestsPerSecond <= 0 {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	lim, ok := d.limiters[profile.ID]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(profile.RequestsPerSecond), 1)
		d.limiters[profile.ID] = lim
	}
	return lim
}

func (d *Dispatcher) waitForRateLimit(ctx context.Context, profile generation.Profile) error {
	lim := d.limiter(profile)
	if lim == nil {
		return nil
	}
	if err := lim.Wait(ctx); err != nil {
		return &services.Error{Kind: services.KindCancelled, Provider: profile.ID, Op: "rate limit", Cause: err}
	}
	return nil
}

func resolutionFor(req generation.Request, profile generation.Profile) string {
	if req.Resolution != "" {
		return req.Resolution
	}
	return profile.DefaultResolution()
}

func notify(observe Observer, job *generation.Job) {
	if observe != nil {
		observe(job.Clone())
	}
}

// annotate attaches provider and job context when the chain lacks it.
func annotate(err error, providerID, jobID string) error {
	if err == nil {
		return nil
	}
	details := services.Details(err)
	if details.Provider != "" && details.JobID != "" {
		return err
	}
	return &services.Error{Kind: services.KindOf(err), Provider: providerID, JobID: jobID, Cause: err}
}

func describeBudget(d time.Duration) string {
	return fmt.Sprintf("poll budget %s exceeded", d.Round(time.Second))
}
