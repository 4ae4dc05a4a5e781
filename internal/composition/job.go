package composition

import (
	"context"
	"sync"
	"time"

	"reelsmith/internal/services"
)

// Status is the render lifecycle.
type Status string

const (
	StatusPending   Status = "pending"
	StatusBuilding  Status = "building"
	StatusEncoding  Status = "encoding"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the render has stopped.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Snapshot is a copy of a render's observable state.
type Snapshot struct {
	ID              string        `json:"id"`
	Status          Status        `json:"status"`
	Stage           Stage         `json:"stage,omitempty"`
	ProgressPercent float64       `json:"progress_percent"`
	OutputPath      string        `json:"output_path,omitempty"`
	WorkDir         string        `json:"work_dir"`
	Intermediates   []string      `json:"intermediates,omitempty"`
	DurationSeconds float64       `json:"duration_seconds,omitempty"`
	ErrorKind       services.Kind `json:"error_kind,omitempty"`
	Error           string        `json:"error,omitempty"`
	StartedAt       time.Time     `json:"started_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// RenderJob tracks one render. It is mutated only by the engine goroutine
// that runs it; accessors return copies.
type RenderJob struct {
	ID string

	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.RWMutex
	snap Snapshot
	err  error

	observe func(Snapshot)
}

func newRenderJob(id, dir string, cancel context.CancelFunc, now time.Time, observe func(Snapshot)) *RenderJob {
	return &RenderJob{
		ID:      id,
		cancel:  cancel,
		observe: observe,
		done:    make(chan struct{}),
		snap: Snapshot{
			ID:        id,
			Status:    StatusPending,
			WorkDir:   dir,
			StartedAt: now,
			UpdatedAt: now,
		},
	}
}

// Snapshot returns the current state.
func (j *RenderJob) Snapshot() Snapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	snap := j.snap
	snap.Intermediates = append([]string(nil), j.snap.Intermediates...)
	return snap
}

// Cancel kills the running stage and marks the render cancelled.
func (j *RenderJob) Cancel() {
	j.cancel()
}

// Done is closed once the render is terminal.
func (j *RenderJob) Done() <-chan struct{} {
	return j.done
}

// Wait blocks until the render finishes and returns its final state and error.
func (j *RenderJob) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-j.done:
		j.mu.RLock()
		err := j.err
		j.mu.RUnlock()
		return j.Snapshot(), err
	case <-ctx.Done():
		return j.Snapshot(), ctx.Err()
	}
}

func (j *RenderJob) update(fn func(*Snapshot)) {
	j.mu.Lock()
	fn(&j.snap)
	j.snap.UpdatedAt = time.Now()
	j.mu.Unlock()
	j.notify()
}

func (j *RenderJob) notify() {
	if j.observe != nil {
		j.observe(j.Snapshot())
	}
}

func (j *RenderJob) enter(stage Stage) {
	j.update(func(s *Snapshot) {
		s.Stage = stage
		s.Status = StatusBuilding
		if stage == StageEncode {
			s.Status = StatusEncoding
		}
		s.ProgressPercent = overallPercent(stage, 0)
	})
}

func (j *RenderJob) progress(stage Stage, percent float64) {
	j.update(func(s *Snapshot) {
		if p := overallPercent(stage, percent); p > s.ProgressPercent {
			s.ProgressPercent = p
		}
	})
}

func (j *RenderJob) addIntermediate(path string) {
	j.update(func(s *Snapshot) {
		s.Intermediates = append(s.Intermediates, path)
	})
}

// finish records the terminal state. Progress is left where the failing
// stage stopped.
func (j *RenderJob) finish(status Status, output string, duration float64, err error) {
	j.mu.Lock()
	j.snap.Status = status
	j.snap.UpdatedAt = time.Now()
	if status == StatusCompleted {
		j.snap.ProgressPercent = 100
		j.snap.OutputPath = output
		j.snap.DurationSeconds = duration
	}
	if err != nil {
		j.snap.ErrorKind = services.KindOf(err)
		j.snap.Error = err.Error()
	}
	j.err = err
	j.mu.Unlock()
	j.notify()
	close(j.done)
}
