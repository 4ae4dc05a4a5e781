package generation

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"reelsmith/internal/services"
)

// Status is the lifecycle state of a generation job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusSubmitted Status = "submitted"
	StatusPolling   Status = "polling"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var statusRank = map[Status]int{
	StatusQueued:    0,
	StatusSubmitted: 1,
	StatusPolling:   2,
	StatusCompleted: 3,
	StatusFailed:    3,
	StatusCancelled: 3,
}

// IsTerminal reports whether no further transitions are possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// InFlight reports whether the job occupies a provider slot.
func (s Status) InFlight() bool {
	return s == StatusSubmitted || s == StatusPolling
}

// Before reports whether s precedes next in the lifecycle.
func (s Status) Before(next Status) bool {
	return statusRank[s] < statusRank[next]
}

// ErrInvalidTransition is returned when a job would revisit a state.
var ErrInvalidTransition = errors.New("invalid job transition")

// Handle is the opaque reference a provider returns on submit.
type Handle struct {
	ProviderID string `json:"provider_id"`
	Token      string `json:"token"`
}

// Attempt records one provider's try at the job.
type Attempt struct {
	ProviderID   string        `json:"provider_id"`
	Handle       string        `json:"handle,omitempty"`
	Prompt       string        `json:"prompt,omitempty"`
	QualityScore int           `json:"quality_score"`
	Outcome      Status        `json:"outcome"`
	ErrorKind    services.Kind `json:"error_kind,omitempty"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Polls        int           `json:"polls"`
	StartedAt    time.Time     `json:"started_at"`
	EndedAt      time.Time     `json:"ended_at,omitzero"`
}

// Job tracks one request through the provider layer.
type Job struct {
	ID             string        `json:"id"`
	EpisodeID      string        `json:"episode_id,omitempty"`
	BatchID        string        `json:"batch_id,omitempty"`
	Request        Request       `json:"request"`
	ProviderID     string        `json:"provider_id,omitempty"`
	Status         Status        `json:"status"`
	Attempts       []Attempt     `json:"attempts,omitempty"`
	ResultAssetURL string        `json:"result_asset_url,omitempty"`
	ErrorKind      services.Kind `json:"error_kind,omitempty"`
	ErrorMessage   string        `json:"error_message,omitempty"`
	QualityScore   int           `json:"quality_score"`
	Cached         bool          `json:"cached,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
	CompletedAt    *time.Time    `json:"completed_at,omitempty"`
}

// NewJob creates a queued job for req.
func NewJob(req Request, now time.Time) *Job {
	return &Job{
		ID:        uuid.NewString(),
		Request:   req,
		Status:    StatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Advance moves the job forward. States are never revisited and terminal
// states are final.
func (j *Job) Advance(next Status, now time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is %s", ErrInvalidTransition, j.ID, j.Status)
	}
	if !j.Status.Before(next) {
		return fmt.Errorf("%w: job %s cannot move from %s to %s", ErrInvalidTransition, j.ID, j.Status, next)
	}
	j.Status = next
	j.UpdatedAt = now
	if next.IsTerminal() {
		completed := now
		j.CompletedAt = &completed
	}
	return nil
}

// AdvanceIfBehind advances only when next is ahead of the current state. A
// fallback resubmission therefore keeps the furthest state reached.
func (j *Job) AdvanceIfBehind(next Status, now time.Time) bool {
	if j.Status.IsTerminal() || !j.Status.Before(next) {
		return false
	}
	return j.Advance(next, now) == nil
}

// Complete marks the job completed with the fetched asset.
func (j *Job) Complete(assetURL string, now time.Time) error {
	if err := j.Advance(StatusCompleted, now); err != nil {
		return err
	}
	j.ResultAssetURL = assetURL
	return nil
}

// Fail records err and moves the job to failed, or cancelled when err is a
// cancellation.
func (j *Job) Fail(err error, now time.Time) error {
	next := StatusFailed
	kind := services.KindOf(err)
	if kind == services.KindCancelled {
		next = StatusCancelled
	}
	if advanceErr := j.Advance(next, now); advanceErr != nil {
		return advanceErr
	}
	j.ErrorKind = kind
	if err != nil {
		j.ErrorMessage = err.Error()
	}
	return nil
}

// Clone returns a deep copy safe to hand across goroutines.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	clone := *j
	clone.Attempts = append([]Attempt(nil), j.Attempts...)
	clone.Request.Requires = j.Request.Requires
	if j.CompletedAt != nil {
		completed := *j.CompletedAt
		clone.CompletedAt = &completed
	}
	return &clone
}

// TriedProviders lists provider ids already attempted.
func (j *Job) TriedProviders() []string {
	ids := make([]string, 0, len(j.Attempts))
	for _, a := range j.Attempts {
		ids = append(ids, a.ProviderID)
	}
	return ids
}
