package batch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"reelsmith/internal/config"
	"reelsmith/internal/generation"
	"reelsmith/internal/logging"
	"reelsmith/internal/provider"
	"reelsmith/internal/services"
)

// Dispatcher runs one provider attempt for a job. *provider.Dispatcher
// satisfies it.
type Dispatcher interface {
	Attempt(ctx context.Context, job *generation.Job, p provider.Provider, observe provider.Observer) error
}

// Recorder persists batch snapshots after every job transition.
type Recorder interface {
	RecordBatch(ctx context.Context, snap Snapshot) error
}

// Options configures a Manager.
type Options struct {
	GlobalMaxInFlight int
	Fallback          bool
	Recorder          Recorder
	// OnFinish is called once per run after every job is terminal.
	OnFinish func(Snapshot)
	Now      func() time.Time
}

// OptionsFromConfig reads the [batch] section.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		GlobalMaxInFlight: cfg.Batch.GlobalMaxInFlight,
		Fallback:          cfg.Batch.Fallback,
	}
}

// Manager admits generation jobs under the configured concurrency limits.
type Manager struct {
	registry   *provider.Registry
	dispatcher Dispatcher
	opts       Options
	logger     *slog.Logger

	mu    sync.Mutex
	cache map[string]*generation.Job
	runs  map[string]*Run
}

// NewManager constructs a manager.
func NewManager(registry *provider.Registry, dispatcher Dispatcher, opts Options, logger *slog.Logger) *Manager {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Manager{
		registry:   registry,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logging.NewComponentLogger(logger, "batch"),
		cache:      make(map[string]*generation.Job),
		runs:       make(map[string]*Run),
	}
}

// entry is the scheduler's view of one job.
type entry struct {
	job      *generation.Job
	forced   provider.Provider
	fellBack bool
}

type completion struct {
	entry      *entry
	providerID string
	err        error
}

// Start registers a run and returns immediately. The run proceeds in the
// background until every job is terminal; cancelling ctx cancels the run.
func (m *Manager) Start(ctx context.Context, episodeID string, requests []generation.Request) (*Run, error) {
	if m.registry == nil || m.registry.Len() == 0 {
		return nil, services.Wrap(services.ErrConfiguration, "batch", "start", "no providers configured", nil)
	}
	now := m.opts.Now()
	batchID := uuid.NewString()

	jobs := make([]*generation.Job, 0, len(requests))
	var pending []*entry
	rejected := 0
	for _, req := range requests {
		if err := req.Validate(); err != nil {
			job := generation.NewJob(req, now)
			job.EpisodeID = episodeID
			job.BatchID = batchID
			_ = job.Fail(err, now)
			jobs = append(jobs, job)
			rejected++
			m.logger.Warn("generation request rejected",
				logging.String(logging.FieldBatchID, batchID),
				logging.String("shot_id", req.ShotID),
				logging.String(logging.FieldErrorKind, string(services.KindValidation)),
				logging.Error(err),
			)
			continue
		}
		if cached, ok := m.cached(req); ok {
			job := cached.Clone()
			job.ID = uuid.NewString()
			job.EpisodeID = episodeID
			job.BatchID = batchID
			job.Cached = true
			jobs = append(jobs, job)
			continue
		}
		job := generation.NewJob(req, now)
		job.EpisodeID = episodeID
		job.BatchID = batchID
		jobs = append(jobs, job)
		pending = append(pending, &entry{job: job})
	}

	runCtx, cancel := context.WithCancel(ctx)
	runCtx = services.WithBatchID(services.WithEpisodeID(runCtx, episodeID), batchID)

	var record func(Snapshot)
	if m.opts.Recorder != nil {
		recorder := m.opts.Recorder
		// The final snapshot is written after a cancelled run's context is done.
		recordCtx := context.WithoutCancel(runCtx)
		record = func(s Snapshot) {
			if err := recorder.RecordBatch(recordCtx, s); err != nil {
				m.logger.Warn("batch snapshot not persisted",
					logging.String(logging.FieldBatchID, s.ID),
					logging.Error(err),
					logging.String(logging.FieldImpact, "status mirror may lag"),
				)
			}
		}
	}
	run := newRun(batchID, episodeID, jobs, now, cancel, record)

	m.mu.Lock()
	m.runs[batchID] = run
	m.mu.Unlock()

	m.logger.Info("batch started",
		logging.String(logging.FieldBatchID, batchID),
		logging.String(logging.FieldEpisodeID, episodeID),
		logging.Int("jobs", len(jobs)),
		logging.Int("cached", len(jobs)-len(pending)-rejected),
		logging.Int("rejected", rejected),
		logging.String(logging.FieldEventType, "batch_started"),
	)
	go m.schedule(runCtx, run, pending)
	return run, nil
}

// RunBatch starts a batch and waits for it.
func (m *Manager) RunBatch(ctx context.Context, episodeID string, requests []generation.Request) (Snapshot, error) {
	run, err := m.Start(ctx, episodeID, requests)
	if err != nil {
		return Snapshot{}, err
	}
	if err := run.Wait(ctx); err != nil {
		run.Cancel()
		<-run.Done()
	}
	return run.Snapshot(), nil
}

// Get returns an unfinished run started by this manager. Finished runs are
// evicted once their final snapshot is recorded.
func (m *Manager) Get(id string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	return run, ok
}

// Runs lists unfinished runs, most recent last.
func (m *Manager) Runs() []*Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Run, 0, len(m.runs))
	for _, run := range m.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].createdAt.Before(out[j].createdAt) })
	return out
}

func (m *Manager) cached(req generation.Request) (*generation.Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.cache[req.Key()]
	return job, ok
}

func (m *Manager) remember(job *generation.Job) {
	if job.Status != generation.StatusCompleted {
		return
	}
	m.mu.Lock()
	m.cache[job.Request.Key()] = job.Clone()
	m.mu.Unlock()
}

// Prime seeds the idempotence cache with jobs completed in an earlier process.
func (m *Manager) Prime(jobs []*generation.Job) {
	for _, job := range jobs {
		if job != nil {
			m.remember(job)
		}
	}
}

// schedule is the only goroutine that touches the admission counters or an
// entry's job between attempts.
func (m *Manager) schedule(ctx context.Context, run *Run, pending []*entry) {
	adm := newAdmission(m.opts.GlobalMaxInFlight)
	events := make(chan completion, len(pending)+1)
	done := ctx.Done()
	cancelled := false
	logger := logging.WithContext(ctx, m.logger)

	for len(pending) > 0 || adm.total > 0 {
		if cancelled {
			for _, e := range pending {
				m.fail(run, e.job, &services.Error{Kind: services.KindCancelled, Op: "batch", Message: "batch cancelled before admission"})
			}
			pending = nil
		} else {
			pending = m.admit(ctx, run, adm, pending, events)
		}
		if adm.total == 0 {
			if len(pending) > 0 && !cancelled {
				// Nothing running and nothing admissible: limits are unsatisfiable.
				for _, e := range pending {
					m.fail(run, e.job, services.Wrap(services.ErrConfiguration, "batch", "admit", "no provider slot available", nil))
				}
				pending = nil
			}
			continue
		}

		select {
		case c := <-events:
			adm.release(c.providerID)
			if requeued := m.settle(logger, run, c); requeued != nil {
				pending = append(pending, requeued)
			}
		case <-done:
			done = nil
			cancelled = true
			logger.Info("batch cancellation requested", logging.String(logging.FieldEventType, "batch_cancelled"))
		}
	}

	status := StatusCompleted
	if cancelled {
		status = StatusCancelled
	}
	snap := run.finish(status, m.opts.Now())
	logger.Info("batch finished",
		logging.String("status", string(status)),
		logging.Int("completed", snap.Progress.Completed),
		logging.Int("failed", snap.Progress.Failed),
		logging.Int("cancelled", snap.Progress.Cancelled),
		logging.String(logging.FieldEventType, "batch_finished"),
	)
	if m.opts.OnFinish != nil {
		m.opts.OnFinish(snap)
	}
	// The recorder holds the final snapshot; callers keep their *Run.
	m.mu.Lock()
	delete(m.runs, run.ID)
	m.mu.Unlock()
	run.cancel()
	close(run.done)
}

// admit launches every pending entry that has headroom, in order, and returns
// the entries still waiting.
func (m *Manager) admit(ctx context.Context, run *Run, adm *admission, pending []*entry, events chan<- completion) []*entry {
	waiting := pending[:0]
	for _, e := range pending {
		if adm.full() {
			waiting = append(waiting, e)
			continue
		}
		p := e.forced
		if p == nil {
			selected, err := m.registry.Select(e.job.Request)
			if err != nil {
				m.fail(run, e.job, err)
				continue
			}
			p = selected
		}
		if !adm.tryAcquire(p.Profile()) {
			waiting = append(waiting, e)
			continue
		}
		go func(e *entry, p provider.Provider) {
			err := m.dispatcher.Attempt(ctx, e.job, p, func(job *generation.Job) {
				run.publish(job, m.opts.Now())
			})
			events <- completion{entry: e, providerID: p.Profile().ID, err: err}
		}(e, p)
	}
	return waiting
}

// settle handles a finished attempt and returns the entry when it should be
// retried on a fallback provider.
func (m *Manager) settle(logger *slog.Logger, run *Run, c completion) *entry {
	job := c.entry.job
	if c.err == nil {
		m.remember(job)
		run.publish(job.Clone(), m.opts.Now())
		return nil
	}
	if services.KindOf(c.err) == services.KindCapability && m.opts.Fallback && !c.entry.fellBack {
		if alt, ok := m.registry.Fallback(job.Request, job.TriedProviders()); ok {
			logger.Info("requeueing job on fallback provider",
				logging.String(logging.FieldJobID, job.ID),
				logging.String("from_provider", c.providerID),
				logging.String("to_provider", alt.Profile().ID),
				logging.String(logging.FieldEventType, "provider_fallback"),
			)
			c.entry.forced = alt
			c.entry.fellBack = true
			return c.entry
		}
	}
	m.fail(run, job, c.err)
	return nil
}

func (m *Manager) fail(run *Run, job *generation.Job, err error) {
	if failErr := job.Fail(err, m.opts.Now()); failErr != nil {
		m.logger.Debug("job already terminal", logging.String(logging.FieldJobID, job.ID), logging.Error(failErr))
	}
	run.publish(job.Clone(), m.opts.Now())
	m.logger.Warn("generation job failed",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("shot_id", job.Request.ShotID),
		logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
		logging.Error(err),
	)
}

// Summary renders a one-line count for notifications and CLI output.
func (s Snapshot) Summary() string {
	return fmt.Sprintf("%d/%d completed, %d failed, %d cancelled",
		s.Progress.Completed, s.Progress.Total, s.Progress.Failed, s.Progress.Cancelled)
}
