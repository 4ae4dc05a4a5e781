package provider

import (
	"context"
	"log/slog"
	"time"

	"reelsmith/internal/generation"
	"reelsmith/internal/logging"
	"reelsmith/internal/retry"
	"reelsmith/internal/services"
)

type attemptState int

const (
	stateSubmit attemptState = iota
	stateWait
	statePoll
	stateFetch
)

func (s attemptState) String() string {
	switch s {
	case stateSubmit:
		return "submit"
	case stateWait:
		return "wait"
	case statePoll:
		return "poll"
	case stateFetch:
		return "fetch"
	default:
		return "unknown"
	}
}

// attemptMachine is one provider attempt: submit, then alternate between
// waiting and polling until the provider reports a terminal status or the
// poll budget runs out, then fetch the asset. A transient failure reported by
// a poll sends the machine back to submit.
type attemptMachine struct {
	d       *Dispatcher
	p       Provider
	profile generation.Profile
	job     *generation.Job
	index   int
	observe Observer
	logger  *slog.Logger
	sub     Submission

	state    attemptState
	handle   generation.Handle
	deadline time.Time
	timeouts int
	// remoteFailures counts transient failures the provider reported after
	// accepting the job.
	remoteFailures int
}

func (m *attemptMachine) attempt() *generation.Attempt {
	return &m.job.Attempts[m.index]
}

func (m *attemptMachine) run(ctx context.Context) (string, error) {
	budget := m.d.PollBudget(m.profile)
	for {
		switch m.state {
		case stateSubmit:
			handle, err := retry.Do(ctx, m.retryOptions("submit"), func(ctx context.Context, _ int) (generation.Handle, error) {
				if err := m.d.waitForRateLimit(ctx, m.profile); err != nil {
					return generation.Handle{}, err
				}
				return m.p.Submit(ctx, m.sub)
			})
			if err != nil {
				return "", err
			}
			if handle.ProviderID == "" {
				handle.ProviderID = m.profile.ID
			}
			m.handle = handle
			m.attempt().Handle = handle.Token
			if m.job.AdvanceIfBehind(generation.StatusSubmitted, m.d.opts.Now()) {
				notify(m.observe, m.job)
			}
			m.logger.Info("provider job submitted",
				logging.String("handle", handle.Token),
				logging.Int("prompt_score", m.attempt().QualityScore),
				logging.String(logging.FieldEventType, "provider_submitted"),
			)
			m.deadline = m.d.opts.Now().Add(budget)
			m.state = stateWait

		case stateWait:
			if err := sleepContext(ctx, m.d.opts.PollInterval); err != nil {
				m.cancelRemote(ctx)
				return "", &services.Error{Kind: services.KindCancelled, Op: "poll", Cause: err}
			}
			if m.d.opts.Now().After(m.deadline) {
				m.timeouts++
				timeoutErr := &services.Error{Kind: services.KindTimeout, Op: "poll", Message: describeBudget(budget)}
				if m.timeouts > m.d.opts.Retry.TimeoutRetries {
					m.cancelRemote(ctx)
					return "", &services.Error{Kind: services.KindFatal, Op: "poll", Message: "timeout persisted after retry", Cause: timeoutErr}
				}
				m.logger.Warn("poll budget exceeded, extending once",
					logging.Duration("budget", budget),
					logging.String(logging.FieldEventType, "poll_budget_extended"),
					logging.String(logging.FieldErrorHint, "provider queue may be congested"),
				)
				m.deadline = m.d.opts.Now().Add(budget)
			}
			m.state = statePoll

		case statePoll:
			res, err := retry.Do(ctx, m.retryOptions("poll"), func(ctx context.Context, _ int) (PollResult, error) {
				if err := m.d.waitForRateLimit(ctx, m.profile); err != nil {
					return PollResult{}, err
				}
				return m.p.PollStatus(ctx, m.handle)
			})
			if err != nil {
				if services.KindOf(err) == services.KindCancelled {
					m.cancelRemote(ctx)
				}
				return "", err
			}
			m.attempt().Polls++
			if m.job.AdvanceIfBehind(generation.StatusPolling, m.d.opts.Now()) {
				notify(m.observe, m.job)
			}
			switch res.Status {
			case generation.StatusCompleted:
				m.state = stateFetch
			case generation.StatusFailed:
				failure := res.Err
				if failure == nil {
					failure = &services.Error{Kind: services.KindFatal, Op: "poll", Message: "provider reported failure"}
				}
				if services.KindOf(failure) != services.KindTransient {
					return "", failure
				}
				if err := m.resubmit(ctx, failure); err != nil {
					return "", err
				}
			case generation.StatusCancelled:
				// Nothing left to cancel remotely.
				return "", &services.Error{Kind: services.KindCancelled, Op: "poll", Message: "provider cancelled the job"}
			default:
				m.logger.Debug("provider job pending",
					logging.Float64(logging.FieldProgressPercent, res.Progress),
					logging.String("provider_status", string(res.Status)),
				)
				m.state = stateWait
			}

		case stateFetch:
			asset, err := retry.Do(ctx, m.retryOptions("fetch"), func(ctx context.Context, _ int) (string, error) {
				if err := m.d.waitForRateLimit(ctx, m.profile); err != nil {
					return "", err
				}
				return m.p.FetchResult(ctx, m.handle)
			})
			if err != nil {
				return "", err
			}
			if asset == "" {
				return "", &services.Error{Kind: services.KindFatal, Op: "fetch", Message: "provider returned no asset"}
			}
			return asset, nil
		}
	}
}

// resubmit sends the job again after the provider lost it to a transient
// failure. The retry attempt budget bounds the number of remote runs.
func (m *attemptMachine) resubmit(ctx context.Context, failure error) error {
	opts := m.d.opts.Retry
	m.remoteFailures++
	if m.remoteFailures >= max(opts.MaxAttempts, 1) {
		return &retry.ExhaustedError{Attempts: m.remoteFailures, Last: failure}
	}
	delay := opts.Delay(m.remoteFailures)
	m.logger.Warn("provider job failed remotely, resubmitting",
		logging.String("handle", m.handle.Token),
		logging.Int("attempt", m.remoteFailures),
		logging.Duration("delay", delay),
		logging.String(logging.FieldErrorKind, string(services.KindTransient)),
		logging.String(logging.FieldEventType, "provider_resubmitted"),
		logging.Error(failure),
	)
	sleep := opts.Sleeper
	if sleep == nil {
		sleep = sleepContext
	}
	if err := sleep(ctx, delay); err != nil {
		return &services.Error{Kind: services.KindCancelled, Op: "resubmit", Cause: err}
	}
	m.handle = generation.Handle{}
	m.state = stateSubmit
	return nil
}

func (m *attemptMachine) retryOptions(op string) retry.Options {
	opts := m.d.opts.Retry
	opts.OnRetry = func(attempt int, kind services.Kind, delay time.Duration, err error) {
		m.logger.Warn("provider call failed, retrying",
			logging.String("op", op),
			logging.Int("attempt", attempt),
			logging.Duration("delay", delay),
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.Error(err),
		)
	}
	return opts
}

// cancelRemote asks the provider to drop the job. It runs detached from ctx so
// that cancellation of the caller still reaches the provider.
func (m *attemptMachine) cancelRemote(ctx context.Context) {
	if m.handle.Token == "" {
		return
	}
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.d.opts.CancelTimeout)
	defer cancel()
	if err := m.p.Cancel(cctx, m.handle); err != nil {
		m.logger.Warn("provider cancel failed",
			logging.String("handle", m.handle.Token),
			logging.Error(err),
			logging.String(logging.FieldImpact, "remote job may keep running and incur cost"),
		)
		return
	}
	m.logger.Info("provider job cancelled", logging.String("handle", m.handle.Token))
}

func (m *attemptMachine) finish(outcome generation.Status, err error) error {
	a := m.attempt()
	a.Outcome = outcome
	a.EndedAt = m.d.opts.Now()
	if err == nil {
		return nil
	}
	a.ErrorKind = services.KindOf(err)
	a.ErrorMessage = err.Error()
	m.logger.Warn("provider attempt failed",
		logging.String("state", m.state.String()),
		logging.String(logging.FieldErrorKind, string(a.ErrorKind)),
		logging.Error(err),
	)
	return annotate(err, m.profile.ID, m.job.ID)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
