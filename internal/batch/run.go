package batch

import (
	"context"
	"sync"
	"time"

	"reelsmith/internal/generation"
)

// Status is the batch-level lifecycle.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Progress counts jobs by state.
type Progress struct {
	Total     int `json:"total"`
	Queued    int `json:"queued"`
	InFlight  int `json:"in_flight"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Done reports whether every job is terminal.
func (p Progress) Done() bool {
	return p.Completed+p.Failed+p.Cancelled == p.Total
}

// Snapshot is a point-in-time copy of a run.
type Snapshot struct {
	ID        string            `json:"id"`
	EpisodeID string            `json:"episode_id,omitempty"`
	Status    Status            `json:"status"`
	Progress  Progress          `json:"progress"`
	Jobs      []*generation.Job `json:"jobs"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// Run is a batch in progress. Its accessors are safe for concurrent use.
type Run struct {
	ID        string
	EpisodeID string

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.RWMutex
	status    Status
	jobs      []*generation.Job
	index     map[string]int
	createdAt time.Time
	updatedAt time.Time
	record    func(Snapshot)
}

func newRun(id, episodeID string, jobs []*generation.Job, now time.Time, cancel context.CancelFunc, record func(Snapshot)) *Run {
	r := &Run{
		ID:        id,
		EpisodeID: episodeID,
		cancel:    cancel,
		done:      make(chan struct{}),
		status:    StatusRunning,
		jobs:      make([]*generation.Job, len(jobs)),
		index:     make(map[string]int, len(jobs)),
		createdAt: now,
		updatedAt: now,
		record:    record,
	}
	for i, job := range jobs {
		r.jobs[i] = job.Clone()
		r.index[job.ID] = i
	}
	return r
}

// publish replaces the stored copy of job and hands the new snapshot to the
// recorder. Recording happens under the lock so snapshots persist in order.
func (r *Run) publish(job *generation.Job, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx, ok := r.index[job.ID]
	if !ok {
		return
	}
	r.jobs[idx] = job
	r.updatedAt = now
	if r.record != nil {
		r.record(r.snapshotLocked())
	}
}

func (r *Run) finish(status Status, now time.Time) Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.updatedAt = now
	snap := r.snapshotLocked()
	if r.record != nil {
		r.record(snap)
	}
	return snap
}

// Progress returns current counts.
func (r *Run) Progress() Progress {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.progressLocked()
}

func (r *Run) progressLocked() Progress {
	p := Progress{Total: len(r.jobs)}
	for _, job := range r.jobs {
		switch job.Status {
		case generation.StatusQueued:
			p.Queued++
		case generation.StatusSubmitted, generation.StatusPolling:
			p.InFlight++
		case generation.StatusCompleted:
			p.Completed++
		case generation.StatusFailed:
			p.Failed++
		case generation.StatusCancelled:
			p.Cancelled++
		}
	}
	return p
}

// Snapshot copies the run state.
func (r *Run) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *Run) snapshotLocked() Snapshot {
	jobs := make([]*generation.Job, len(r.jobs))
	for i, job := range r.jobs {
		jobs[i] = job.Clone()
	}
	return Snapshot{
		ID:        r.ID,
		EpisodeID: r.EpisodeID,
		Status:    r.status,
		Progress:  r.progressLocked(),
		Jobs:      jobs,
		CreatedAt: r.createdAt,
		UpdatedAt: r.updatedAt,
	}
}

// Jobs returns copies of every job keyed by shot id.
func (r *Run) Jobs() map[string]*generation.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*generation.Job, len(r.jobs))
	for _, job := range r.jobs {
		out[job.Request.ShotID] = job.Clone()
	}
	return out
}

// Results returns copies of every job in submission order.
func (r *Run) Results() []*generation.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*generation.Job, len(r.jobs))
	for i, job := range r.jobs {
		out[i] = job.Clone()
	}
	return out
}

// Cancel stops admission and cancels every non-terminal job.
func (r *Run) Cancel() {
	r.cancel()
}

// Done is closed once every job is terminal.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run finishes or ctx ends. Per-job failures are not
// errors; inspect Results.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
