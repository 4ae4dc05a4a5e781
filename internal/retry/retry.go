package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"reelsmith/internal/config"
	"reelsmith/internal/services"
)

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Options configures one call to Do. Options are passed per call; the package
// holds no shared state.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Jitter      bool
	// TimeoutRetries bounds how many timeouts are retried before the failure
	// is treated as fatal.
	TimeoutRetries int
	Classify       func(error) services.Kind
	Sleeper        Sleeper
	Rand           func() float64
	OnRetry        func(attempt int, kind services.Kind, delay time.Duration, err error)
}

// DefaultOptions returns the repository retry policy.
func DefaultOptions() Options {
	return Options{
		MaxAttempts:    4,
		BaseDelay:      500 * time.Millisecond,
		MaxDelay:       30 * time.Second,
		Jitter:         true,
		TimeoutRetries: 1,
	}
}

// FromConfig converts the [retry] config section into executor options.
func FromConfig(cfg config.Retry) Options {
	return Options{
		MaxAttempts:    cfg.MaxAttempts,
		BaseDelay:      time.Duration(cfg.BaseDelayMillis) * time.Millisecond,
		MaxDelay:       time.Duration(cfg.MaxDelaySeconds) * time.Second,
		Jitter:         cfg.Jitter,
		TimeoutRetries: cfg.TimeoutRetries,
	}
}

// ExhaustedError reports that every permitted attempt failed transiently.
type ExhaustedError struct {
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted retries after %d attempts: %v", e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error {
	return []error{services.ErrExhaustedRetries, e.Last}
}

// Do invokes op until it succeeds, fails with a non-retryable error, or the
// attempt budget runs out. Transient failures are retried with exponential
// backoff; timeouts are retried at most TimeoutRetries times.
func Do[T any](ctx context.Context, opts Options, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	maxAttempts := opts.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	classify := opts.Classify
	if classify == nil {
		classify = services.KindOf
	}
	sleep := opts.Sleeper
	if sleep == nil {
		sleep = sleepContext
	}

	timeouts := 0
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, cancelled(err)
		}
		value, err := op(ctx, attempt)
		if err == nil {
			return value, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, cancelled(err)
		}

		kind := classify(err)
		switch kind {
		case services.KindTransient:
		case services.KindTimeout:
			timeouts++
			if timeouts > opts.TimeoutRetries {
				return zero, &services.Error{Kind: services.KindFatal, Op: "retry", Message: "timeout persisted after retry", Cause: err}
			}
		default:
			return zero, err
		}

		if attempt >= maxAttempts {
			return zero, &ExhaustedError{Attempts: attempt, Last: err}
		}

		delay := opts.delay(attempt, err)
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, kind, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, cancelled(err)
		}
	}
}

// Delay reports the backoff before retry number attempt (1-based) without a
// server hint. Exposed for callers that schedule their own waits.
func (o Options) Delay(attempt int) time.Duration {
	return o.delay(attempt, nil)
}

func (o Options) delay(attempt int, err error) time.Duration {
	if hint := services.RetryAfter(err); hint > 0 {
		return capDelay(hint, o.MaxDelay)
	}
	d := backoffDelay(o.BaseDelay, attempt)
	d = capDelay(d, o.MaxDelay)
	if o.Jitter && d > 0 {
		r := o.Rand
		if r == nil {
			r = rand.Float64
		}
		half := d / 2
		d = half + time.Duration(float64(d-half)*r())
	}
	return d
}

func backoffDelay(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		if delay > time.Hour {
			break
		}
		delay *= 2
	}
	return delay
}

func capDelay(d, limit time.Duration) time.Duration {
	if limit > 0 && d > limit {
		return limit
	}
	return d
}

func cancelled(err error) error {
	return &services.Error{Kind: services.KindCancelled, Op: "retry", Cause: err}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
