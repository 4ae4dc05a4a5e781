package provider

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"reelsmith/internal/generation"
	"reelsmith/internal/logging"
	"reelsmith/internal/retry"
	"reelsmith/internal/services"
)

func fastOptions() Options {
	return Options{
		Retry: retry.Options{
			MaxAttempts:    3,
			TimeoutRetries: 1,
			Sleeper:        func(context.Context, time.Duration) error { return nil },
		},
		PollInterval:     time.Millisecond,
		PollBudgetFactor: 30,
		PollMargin:       time.Minute,
		Fallback:         true,
	}
}

type observed struct {
	mu       sync.Mutex
	statuses []generation.Status
}

func (o *observed) observe(job *generation.Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, job.Status)
}

func (o *observed) snapshot() []generation.Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]generation.Status(nil), o.statuses...)
}

func TestGenerateHappyPath(t *testing.T) {
	p := newFakeProvider("runway", 0.1)
	p.polls = []PollResult{{Status: generation.StatusPolling, Progress: 40}, {Status: generation.StatusCompleted}}
	reg, _ := NewRegistry(p)
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())

	job := generation.NewJob(testRequest(), time.Now())
	var obs observed
	if err := d.Generate(context.Background(), job, obs.observe); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if job.Status != generation.StatusCompleted || job.ResultAssetURL != p.asset {
		t.Fatalf("unexpected job state %s %q", job.Status, job.ResultAssetURL)
	}
	want := []generation.Status{generation.StatusSubmitted, generation.StatusPolling, generation.StatusCompleted}
	got := obs.snapshot()
	if len(got) != len(want) {
		t.Fatalf("observed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("observed %v, want %v", got, want)
		}
	}
	if len(job.Attempts) != 1 || job.Attempts[0].Polls != 2 || job.Attempts[0].Outcome != generation.StatusCompleted {
		t.Fatalf("unexpected attempts %+v", job.Attempts)
	}
	if job.Attempts[0].Prompt == "" || job.QualityScore == 0 {
		t.Fatalf("expected optimized prompt and score, got %+v", job.Attempts[0])
	}
}

func TestGenerateRetriesTransientSubmit(t *testing.T) {
	p := newFakeProvider("runway", 0.1)
	p.submitErrs = []error{&services.Error{Kind: services.KindTransient, Message: "503"}, nil}
	p.polls = []PollResult{{Status: generation.StatusCompleted}}
	reg, _ := NewRegistry(p)
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())

	job := generation.NewJob(testRequest(), time.Now())
	if err := d.Generate(context.Background(), job, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if submits, _, _ := p.counts(); submits != 2 {
		t.Fatalf("submits = %d, want 2", submits)
	}
}

func TestGenerateExhaustsTransientRetries(t *testing.T) {
	p := newFakeProvider("runway", 0.1)
	transient := &services.Error{Kind: services.KindTransient, Message: "503"}
	p.submitErrs = []error{transient, transient, transient}
	reg, _ := NewRegistry(p)
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())

	job := generation.NewJob(testRequest(), time.Now())
	err := d.Generate(context.Background(), job, nil)
	if !errors.Is(err, services.ErrExhaustedRetries) {
		t.Fatalf("expected exhausted retries, got %v", err)
	}
	if job.Status != generation.StatusFailed || job.ErrorKind != services.KindExhausted {
		t.Fatalf("unexpected job %s %s", job.Status, job.ErrorKind)
	}
}

func TestGenerateFallsBackOnceOnCapability(t *testing.T) {
	primary := newFakeProvider("cheap", 0.05)
	primary.submitErrs = []error{&services.Error{Kind: services.KindCapability, Message: "content policy"}}
	secondary := newFakeProvider("backup", 0.2)
	secondary.polls = []PollResult{{Status: generation.StatusCompleted}}
	reg, _ := NewRegistry(primary, secondary)
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())

	job := generation.NewJob(testRequest(), time.Now())
	if err := d.Generate(context.Background(), job, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if job.ProviderID != "backup" || len(job.Attempts) != 2 {
		t.Fatalf("expected fallback to backup, got %s with %d attempts", job.ProviderID, len(job.Attempts))
	}
	if job.Attempts[0].ErrorKind != services.KindCapability {
		t.Fatalf("first attempt kind = %s", job.Attempts[0].ErrorKind)
	}
}

func TestGenerateFallbackHappensAtMostOnce(t *testing.T) {
	capability := &services.Error{Kind: services.KindCapability, Message: "content policy"}
	a := newFakeProvider("a", 0.1)
	a.submitErrs = []error{capability}
	b := newFakeProvider("b", 0.2)
	b.submitErrs = []error{capability}
	c := newFakeProvider("c", 0.3)
	reg, _ := NewRegistry(a, b, c)
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())

	job := generation.NewJob(testRequest(), time.Now())
	err := d.Generate(context.Background(), job, nil)
	if services.KindOf(err) != services.KindCapability {
		t.Fatalf("expected capability error, got %v", err)
	}
	if submits, _, _ := c.counts(); submits != 0 {
		t.Fatalf("third provider should not be tried, got %d submits", submits)
	}
	if job.Status != generation.StatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
}

func TestGenerateWithoutFallback(t *testing.T) {
	a := newFakeProvider("a", 0.1)
	a.submitErrs = []error{&services.Error{Kind: services.KindCapability}}
	reg, _ := NewRegistry(a, newFakeProvider("b", 0.2))
	opts := fastOptions()
	opts.Fallback = false
	d := NewDispatcher(reg, opts, logging.NewNop())
	job := generation.NewJob(testRequest(), time.Now())
	if err := d.Generate(context.Background(), job, nil); services.KindOf(err) != services.KindCapability {
		t.Fatalf("expected capability error, got %v", err)
	}
	if len(job.Attempts) != 1 {
		t.Fatalf("attempts = %d", len(job.Attempts))
	}
}

func TestGenerateProviderReportedFailure(t *testing.T) {
	p := newFakeProvider("runway", 0.1)
	p.polls = []PollResult{{Status: generation.StatusFailed, Err: &services.Error{Kind: services.KindFatal, Message: "render crashed"}}}
	reg, _ := NewRegistry(p)
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())
	job := generation.NewJob(testRequest(), time.Now())
	err := d.Generate(context.Background(), job, nil)
	if services.KindOf(err) != services.KindFatal {
		t.Fatalf("expected fatal, got %v", err)
	}
	if details := services.Details(err); details.Provider != "runway" || details.JobID != job.ID {
		t.Fatalf("missing context in %v", err)
	}
}

func TestGeneratePollBudgetTimesOutAfterOneExtension(t *testing.T) {
	p := newFakeProvider("slow", 0.1)
	p.profile.MaxDurationSeconds = 1
	reg, _ := NewRegistry(p)
	opts := fastOptions()
	opts.PollBudgetFactor = 0.001
	opts.PollMargin = 0
	opts.PollInterval = 3 * time.Millisecond
	d := NewDispatcher(reg, opts, logging.NewNop())

	req := testRequest()
	req.TargetDurationSeconds = 1
	job := generation.NewJob(req, time.Now())
	err := d.Generate(context.Background(), job, nil)
	if services.KindOf(err) != services.KindFatal {
		t.Fatalf("expected fatal after second timeout, got %v", err)
	}
	if !errors.Is(err, services.ErrTimeout) {
		t.Fatalf("expected timeout in chain, got %v", err)
	}
	_, polls, cancels := p.counts()
	if polls < 1 {
		t.Fatalf("expected at least one poll inside the extension, got %d", polls)
	}
	if cancels != 1 {
		t.Fatalf("expected remote cancel after timeout, got %d", cancels)
	}
}

func TestGenerateCancellationCancelsRemoteJob(t *testing.T) {
	p := newFakeProvider("runway", 0.1)
	p.blockOnPoll = make(chan struct{})
	reg, _ := NewRegistry(p)
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	job := generation.NewJob(testRequest(), time.Now())
	done := make(chan error, 1)
	go func() { done <- d.Generate(ctx, job, nil) }()

	deadline := time.After(5 * time.Second)
	for {
		if _, polls, _ := p.counts(); polls > 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("poll never started")
		case <-time.After(time.Millisecond):
		}
	}
	cancel()
	err := <-done
	if services.KindOf(err) != services.KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if job.Status != generation.StatusCancelled {
		t.Fatalf("status = %s", job.Status)
	}
	if _, _, cancels := p.counts(); cancels != 1 {
		t.Fatalf("cancels = %d", cancels)
	}
}

func TestGenerateRejectsInvalidRequest(t *testing.T) {
	reg, _ := NewRegistry(newFakeProvider("runway", 0.1))
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())
	req := testRequest()
	req.SourceImageRef = ""
	job := generation.NewJob(req, time.Now())
	if err := d.Generate(context.Background(), job, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if job.Status != generation.StatusFailed {
		t.Fatalf("status = %s", job.Status)
	}
}

func TestAttemptRejectsInvalidRequestBeforeProvider(t *testing.T) {
	p := newFakeProvider("runway", 0.1)
	reg, _ := NewRegistry(p)
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())
	req := testRequest()
	req.TargetDurationSeconds = 0
	job := generation.NewJob(req, time.Now())
	if err := d.Attempt(context.Background(), job, p, nil); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(job.Attempts) != 0 {
		t.Fatalf("attempts = %d", len(job.Attempts))
	}
	if submits, _, _ := p.counts(); submits != 0 {
		t.Fatalf("submits = %d", submits)
	}
}

func TestGenerateProviderCancelledIsRecordedAsCancelled(t *testing.T) {
	p := newFakeProvider("runway", 0.1)
	p.polls = []PollResult{{Status: generation.StatusCancelled}}
	reg, _ := NewRegistry(p)
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())
	job := generation.NewJob(testRequest(), time.Now())
	err := d.Generate(context.Background(), job, nil)
	if services.KindOf(err) != services.KindCancelled {
		t.Fatalf("expected cancelled, got %v", err)
	}
	if job.Status != generation.StatusCancelled || job.Attempts[0].Outcome != generation.StatusCancelled {
		t.Fatalf("job %s attempt %s", job.Status, job.Attempts[0].Outcome)
	}
	if _, _, cancels := p.counts(); cancels != 0 {
		t.Fatalf("cancels = %d", cancels)
	}
}

func TestGenerateResubmitsAfterTransientRemoteFailure(t *testing.T) {
	p := newFakeProvider("runway", 0.1)
	p.polls = []PollResult{
		{Status: generation.StatusFailed, Err: &services.Error{Kind: services.KindTransient, Message: "INTERNAL"}},
		{Status: generation.StatusCompleted},
	}
	reg, _ := NewRegistry(p)
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())
	job := generation.NewJob(testRequest(), time.Now())
	if err := d.Generate(context.Background(), job, nil); err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if submits, polls, _ := p.counts(); submits != 2 || polls != 2 {
		t.Fatalf("submits = %d polls = %d", submits, polls)
	}
	if len(job.Attempts) != 1 || job.Attempts[0].Handle != "runway-task-2" {
		t.Fatalf("attempts = %+v", job.Attempts)
	}
	if job.Status != generation.StatusCompleted {
		t.Fatalf("status = %s", job.Status)
	}
}

func TestGenerateTransientRemoteFailuresExhaust(t *testing.T) {
	p := newFakeProvider("runway", 0.1)
	p.polls = []PollResult{{Status: generation.StatusFailed, Err: &services.Error{Kind: services.KindTransient, Message: "INTERNAL"}}}
	reg, _ := NewRegistry(p)
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())
	job := generation.NewJob(testRequest(), time.Now())
	err := d.Generate(context.Background(), job, nil)
	if !errors.Is(err, services.ErrExhaustedRetries) {
		t.Fatalf("expected exhausted retries, got %v", err)
	}
	if submits, _, _ := p.counts(); submits != 3 {
		t.Fatalf("submits = %d, want 3", submits)
	}
	if job.Status != generation.StatusFailed || job.ErrorKind != services.KindExhausted {
		t.Fatalf("job %s %s", job.Status, job.ErrorKind)
	}
}

func TestRateLimiterPerProvider(t *testing.T) {
	p := newFakeProvider("runway", 0.1)
	p.profile.RequestsPerSecond = 1000
	reg, _ := NewRegistry(p)
	d := NewDispatcher(reg, fastOptions(), logging.NewNop())
	if d.limiter(p.profile) != d.limiter(p.profile) {
		t.Fatal("expected limiter to be reused")
	}
	p.profile.ID = "other"
	p.profile.RequestsPerSecond = 0
	if d.limiter(p.profile) != nil {
		t.Fatal("expected no limiter when rate is unset")
	}
}
