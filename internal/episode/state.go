package episode

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"reelsmith/internal/audio"
	"reelsmith/internal/composition"
	"reelsmith/internal/services"
	"reelsmith/internal/timeline"
)

// Status is the assembly lifecycle of one episode.
type Status string

const (
	StatusRunning   Status = "running"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// ClipResult is the video chosen for a shot.
type ClipResult struct {
	VideoURL   string `json:"video_url"`
	JobID      string `json:"job_id,omitempty"`
	ProviderID string `json:"provider_id,omitempty"`
	Cached     bool   `json:"cached,omitempty"`
}

// State is the persisted composition state of an episode. Artifacts of
// finished phases are kept when a later phase fails.
type State struct {
	EpisodeID   string        `json:"episode_id"`
	Status      Status        `json:"status"`
	Phase       Phase         `json:"phase"`
	FailedPhase Phase         `json:"failed_phase,omitempty"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   services.Kind `json:"error_kind,omitempty"`
	Resumable   bool          `json:"resumable,omitempty"`
	Attempts    int           `json:"attempts"`

	Episode     *Episode               `json:"episode,omitempty"`
	BatchID     string                 `json:"batch_id,omitempty"`
	Clips       map[string]ClipResult  `json:"clips,omitempty"`
	FailedShots map[string]string      `json:"failed_shots,omitempty"`
	Dialogue    map[string]audio.Track `json:"dialogue,omitempty"`
	Scores      map[string]audio.Track `json:"scores,omitempty"`
	Timeline    *timeline.Timeline     `json:"timeline,omitempty"`
	Render      *composition.Snapshot  `json:"render,omitempty"`

	OutputPath      string     `json:"output_path,omitempty"`
	DurationSeconds float64    `json:"duration_seconds,omitempty"`
	StartedAt       time.Time  `json:"started_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
}

func newState(id string, now time.Time) *State {
	return &State{
		EpisodeID: id,
		Status:    StatusRunning,
		Phase:     PhaseFetchShots,
		Attempts:  1,
		StartedAt: now,
		UpdatedAt: now,
	}
}

func (s *State) ensureMaps() {
	if s.Clips == nil {
		s.Clips = make(map[string]ClipResult)
	}
	if s.FailedShots == nil {
		s.FailedShots = make(map[string]string)
	}
	if s.Dialogue == nil {
		s.Dialogue = make(map[string]audio.Track)
	}
	if s.Scores == nil {
		s.Scores = make(map[string]audio.Track)
	}
}

// resumePhase is where the next assembly attempt starts.
func (s *State) resumePhase() Phase {
	phase := s.FailedPhase
	if !phase.Valid() {
		phase = s.Phase
	}
	if !phase.Valid() || s.Episode == nil {
		return PhaseFetchShots
	}
	if phase.index() > PhaseBuildTimeline.index() && s.Timeline == nil {
		return PhaseBuildTimeline
	}
	return phase
}

// FailedShotIDs lists shots whose video could not be generated.
func (s *State) FailedShotIDs() []string {
	ids := make([]string, 0, len(s.FailedShots))
	for id := range s.FailedShots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// StateStore persists composition state keyed by episode id.
type StateStore interface {
	// LoadState returns nil without error when nothing was saved.
	LoadState(ctx context.Context, episodeID string) (*State, error)
	SaveState(ctx context.Context, state *State) error
}

// MemoryStateStore keeps state in process. Values are stored as JSON so
// callers never share maps with the store.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string][]byte
}

// NewMemoryStateStore returns an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string][]byte)}
}

// LoadState implements StateStore.
func (m *MemoryStateStore) LoadState(_ context.Context, episodeID string) (*State, error) {
	m.mu.Lock()
	data, ok := m.states[episodeID]
	m.mu.Unlock()
	if !ok {
		return nil, nil
	}
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

// SaveState implements StateStore.
func (m *MemoryStateStore) SaveState(_ context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.states[state.EpisodeID] = data
	m.mu.Unlock()
	return nil
}
