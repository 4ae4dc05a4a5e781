package episode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"reelsmith/internal/audio"
	"reelsmith/internal/batch"
	"reelsmith/internal/composition"
	"reelsmith/internal/config"
	"reelsmith/internal/generation"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
	"reelsmith/internal/timeline"
)

// BatchRunner starts generation batches. *batch.Manager satisfies it.
type BatchRunner interface {
	Start(ctx context.Context, episodeID string, requests []generation.Request) (*batch.Run, error)
}

// Renderer renders a timeline. *composition.Engine satisfies it.
type Renderer interface {
	Render(ctx context.Context, tl timeline.Timeline, s composition.OutputSettings, observe func(composition.Snapshot)) (composition.Snapshot, error)
}

// Dependencies are the coordinator's collaborators. Audio may be nil, in which
// case the synthesis phase completes without producing tracks.
type Dependencies struct {
	Source   ShotSource
	Batches  BatchRunner
	Audio    audio.Synthesizer
	Renderer Renderer
	States   StateStore
}

// Options configures assembly.
type Options struct {
	Settings       composition.OutputSettings
	OutputDir      string
	Timeline       TimelineOptions
	ScoreThreshold float64
	// ProgressInterval is how often batch progress is sampled.
	ProgressInterval time.Duration
	Now              func() time.Time
}

// OptionsFromConfig reads the composition, audio, and paths sections.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Settings:  composition.SettingsFromConfig(cfg.Composition),
		OutputDir: cfg.Paths.OutputDir,
		Timeline: TimelineOptions{
			DefaultTransition: timeline.Transition{
				Kind:            timeline.TransitionKind(cfg.Composition.DefaultTransition),
				DurationSeconds: cfg.Composition.TransitionSeconds,
			},
			ColorGrade:  cfg.Composition.ColorGrade,
			ScoreGainDB: -12,
		},
		ScoreThreshold: cfg.Audio.ScoreThreshold,
	}
}

// ProgressEvent reports phase-level progress to subscribers.
type ProgressEvent struct {
	EpisodeID  string        `json:"episode_id"`
	Phase      Phase         `json:"phase"`
	Percent    float64       `json:"percent"`
	Status     Status        `json:"status"`
	Message    string        `json:"message,omitempty"`
	ErrorKind  services.Kind `json:"error_kind,omitempty"`
	Resumable  bool          `json:"resumable,omitempty"`
	OutputPath string        `json:"output_path,omitempty"`
}

// Output is the result of a successful assembly.
type Output struct {
	EpisodeID       string   `json:"episode_id"`
	OutputPath      string   `json:"output_path"`
	DurationSeconds float64  `json:"duration_seconds,omitempty"`
	FailedShots     []string `json:"failed_shots,omitempty"`
	// Cached is set when the episode had already been rendered.
	Cached bool `json:"cached,omitempty"`
}

// Coordinator runs the assembly pipeline.
type Coordinator struct {
	deps   Dependencies
	opts   Options
	logger *slog.Logger

	mu          sync.Mutex
	subscribers map[int]func(ProgressEvent)
	nextSub     int
	active      map[string]struct{}
}

// NewCoordinator constructs a coordinator.
func NewCoordinator(deps Dependencies, opts Options, logger *slog.Logger) *Coordinator {
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if deps.States == nil {
		deps.States = NewMemoryStateStore()
	}
	return &Coordinator{
		deps:        deps,
		opts:        opts,
		logger:      logging.NewComponentLogger(logger, "episode"),
		subscribers: make(map[int]func(ProgressEvent)),
		active:      make(map[string]struct{}),
	}
}

// Subscribe registers fn for progress events and returns a function that
// removes it. fn may be called from several goroutines.
func (c *Coordinator) Subscribe(fn func(ProgressEvent)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.subscribers[id] = fn
	return func() {
		c.mu.Lock()
		delete(c.subscribers, id)
		c.mu.Unlock()
	}
}

func (c *Coordinator) emit(ev ProgressEvent) {
	c.mu.Lock()
	subs := make([]func(ProgressEvent), 0, len(c.subscribers))
	for _, fn := range c.subscribers {
		subs = append(subs, fn)
	}
	c.mu.Unlock()
	for _, fn := range subs {
		fn(ev)
	}
}

// State returns the persisted state of an episode, or nil.
func (c *Coordinator) State(ctx context.Context, episodeID string) (*State, error) {
	return c.deps.States.LoadState(ctx, episodeID)
}

// Running reports whether an assembly of episodeID is in progress.
func (c *Coordinator) Running(episodeID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.active[episodeID]
	return ok
}

func (c *Coordinator) claim(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, busy := c.active[id]; busy {
		return false
	}
	c.active[id] = struct{}{}
	return true
}

func (c *Coordinator) release(id string) {
	c.mu.Lock()
	delete(c.active, id)
	c.mu.Unlock()
}

// Assemble produces the rendered episode. A previous failure resumes at the
// failed phase; a completed episode returns its cached output without
// rendering again.
func (c *Coordinator) Assemble(ctx context.Context, episodeID string) (Output, error) {
	episodeID = strings.TrimSpace(episodeID)
	if episodeID == "" {
		return Output{}, invalid("episode id is required")
	}
	if c.deps.Source == nil || c.deps.Renderer == nil {
		return Output{}, services.Wrap(services.ErrConfiguration, "episode", "assemble", "shot source and renderer are required", nil)
	}
	if !c.claim(episodeID) {
		return Output{}, services.New(services.KindTransient, "episode assemble", "assembly already running for "+episodeID, nil)
	}
	defer c.release(episodeID)

	ctx = services.WithEpisodeID(ctx, episodeID)
	logger := logging.WithContext(ctx, c.logger)

	state, err := c.deps.States.LoadState(ctx, episodeID)
	if err != nil {
		return Output{}, services.New(services.KindTransient, "episode load state", episodeID, err)
	}
	if state != nil && state.Status == StatusCompleted && state.OutputPath != "" {
		if _, statErr := os.Stat(state.OutputPath); statErr == nil {
			logger.Info("episode already assembled",
				logging.String("output", state.OutputPath),
				logging.String(logging.FieldEventType, "episode_cached"),
			)
			c.emit(ProgressEvent{EpisodeID: episodeID, Phase: PhasePersist, Percent: 100, Status: StatusCompleted, OutputPath: state.OutputPath})
			return outputOf(state, true), nil
		}
		logger.Warn("rendered output missing, rendering again",
			logging.String("output", state.OutputPath),
			logging.String(logging.FieldImpact, "episode is re-rendered from its saved timeline"),
		)
		state.FailedPhase = PhaseRender
	}

	start := PhaseFetchShots
	if state == nil {
		state = newState(episodeID, c.opts.Now())
	} else {
		start = state.resumePhase()
		state.Attempts++
	}
	state.ensureMaps()
	logger.Info("episode assembly started",
		logging.String("start_phase", string(start)),
		logging.Int("attempt", state.Attempts),
		logging.String(logging.FieldEventType, "episode_started"),
	)

	for _, phase := range Phases[start.index():] {
		if err := c.runPhase(ctx, logger, state, phase); err != nil {
			return Output{}, c.fail(ctx, logger, state, phase, err)
		}
	}
	logger.Info("episode assembled",
		logging.String("output", state.OutputPath),
		logging.Float64("duration_seconds", state.DurationSeconds),
		logging.Int("failed_shots", len(state.FailedShots)),
		logging.String(logging.FieldEventType, "episode_completed"),
	)
	return outputOf(state, false), nil
}

func outputOf(state *State, cached bool) Output {
	return Output{
		EpisodeID:       state.EpisodeID,
		OutputPath:      state.OutputPath,
		DurationSeconds: state.DurationSeconds,
		FailedShots:     state.FailedShotIDs(),
		Cached:          cached,
	}
}

func (c *Coordinator) runPhase(ctx context.Context, logger *slog.Logger, state *State, phase Phase) error {
	if err := ctx.Err(); err != nil {
		return services.New(services.KindCancelled, "episode "+string(phase), "assembly cancelled", err)
	}
	state.Phase = phase
	state.Status = StatusRunning
	state.FailedPhase = ""
	state.Error = ""
	state.ErrorKind = ""
	state.Resumable = false
	c.save(ctx, logger, state)

	phaseCtx := services.WithPhaseContext(ctx, string(phase))
	phaseLogger := logger.With(logging.String(logging.FieldPhase, string(phase)))
	phaseLogger.Info("phase started", logging.String(logging.FieldEventType, "phase_started"))
	report := func(percent float64) {
		c.emit(ProgressEvent{EpisodeID: state.EpisodeID, Phase: phase, Percent: clamp(percent), Status: StatusRunning})
	}
	report(0)

	var err error
	switch phase {
	case PhaseFetchShots:
		err = c.fetchShots(phaseCtx, state)
	case PhaseGenerateVideo:
		err = c.generateVideo(phaseCtx, phaseLogger, state, report)
	case PhaseSynthesizeAudio:
		err = c.synthesizeAudio(phaseCtx, phaseLogger, state, report)
	case PhaseBuildTimeline:
		err = c.buildTimeline(state)
	case PhaseRender:
		err = c.render(phaseCtx, phaseLogger, state, report)
	case PhasePersist:
		err = c.persist(phaseCtx, state)
	}
	if err != nil {
		return err
	}
	if phase == PhasePersist {
		c.emit(ProgressEvent{EpisodeID: state.EpisodeID, Phase: phase, Percent: 100, Status: StatusCompleted, OutputPath: state.OutputPath})
	} else {
		report(100)
	}
	phaseLogger.Info("phase completed", logging.String(logging.FieldEventType, "phase_completed"))
	return nil
}

// fail records the failed phase while keeping every earlier artifact.
func (c *Coordinator) fail(ctx context.Context, logger *slog.Logger, state *State, phase Phase, err error) error {
	err = services.WithPhase(err, string(phase))
	kind := services.KindOf(err)
	state.Status = StatusFailed
	state.FailedPhase = phase
	state.Error = err.Error()
	state.ErrorKind = kind
	state.Resumable = services.IsResumable(err)
	c.save(context.WithoutCancel(ctx), logger, state)

	details := services.Details(err)
	attrs := []logging.Attr{
		logging.String(logging.FieldPhase, string(phase)),
		logging.String(logging.FieldErrorKind, string(kind)),
		logging.Bool("resumable", state.Resumable),
		logging.Error(err),
	}
	if details.Provider != "" {
		attrs = append(attrs, logging.String(logging.FieldProvider, details.Provider))
	}
	if details.JobID != "" {
		attrs = append(attrs, logging.String(logging.FieldJobID, details.JobID))
	}
	if state.Resumable {
		attrs = append(attrs, logging.String(logging.FieldImpact, "assemble again to resume at "+string(phase)))
	} else {
		attrs = append(attrs, logging.String(logging.FieldImpact, "operator action required before retrying"))
	}
	logging.ErrorWithContext(logger, "episode assembly failed", "episode_failed", attrs...)

	c.emit(ProgressEvent{
		EpisodeID: state.EpisodeID,
		Phase:     phase,
		Status:    StatusFailed,
		Message:   services.Describe(err),
		ErrorKind: kind,
		Resumable: state.Resumable,
	})
	return err
}

func (c *Coordinator) save(ctx context.Context, logger *slog.Logger, state *State) {
	state.UpdatedAt = c.opts.Now()
	if err := c.deps.States.SaveState(ctx, state); err != nil {
		logger.Warn("episode state not persisted",
			logging.Error(err),
			logging.String(logging.FieldImpact, "a restart may repeat finished phases"),
		)
	}
}

func (c *Coordinator) fetchShots(ctx context.Context, state *State) error {
	ep, err := c.deps.Source.Episode(ctx, state.EpisodeID)
	if err != nil {
		return err
	}
	if err := ep.Validate(); err != nil {
		return err
	}
	state.Episode = ep
	return nil
}

func (c *Coordinator) generateVideo(ctx context.Context, logger *slog.Logger, state *State, report func(float64)) error {
	var requests []generation.Request
	for _, shot := range state.Episode.Ordered() {
		if shot.VideoURL != "" {
			state.Clips[shot.ID] = ClipResult{VideoURL: shot.VideoURL}
			delete(state.FailedShots, shot.ID)
			continue
		}
		if done, ok := state.Clips[shot.ID]; ok && done.VideoURL != "" {
			continue
		}
		requests = append(requests, shot.Request())
	}
	if len(requests) == 0 {
		logger.Debug("every shot already has video")
		return nil
	}
	if c.deps.Batches == nil {
		return services.Wrap(services.ErrConfiguration, "episode", "generate video", "no batch manager configured", nil)
	}

	run, err := c.deps.Batches.Start(ctx, state.EpisodeID, requests)
	if err != nil {
		return err
	}
	state.BatchID = run.ID
	ticker := time.NewTicker(c.opts.ProgressInterval)
	defer ticker.Stop()
	for waiting := true; waiting; {
		select {
		case <-run.Done():
			waiting = false
		case <-ticker.C:
			report(batchPercent(run.Progress()))
		}
	}
	if err := ctx.Err(); err != nil {
		return services.New(services.KindCancelled, "episode generate_video", "generation cancelled", err)
	}

	var firstKind services.Kind
	for shotID, job := range run.Jobs() {
		if job.Status == generation.StatusCompleted {
			state.Clips[shotID] = ClipResult{
				VideoURL:   job.ResultAssetURL,
				JobID:      job.ID,
				ProviderID: job.ProviderID,
				Cached:     job.Cached,
			}
			delete(state.FailedShots, shotID)
			continue
		}
		msg := job.ErrorMessage
		if msg == "" {
			msg = string(job.Status)
		}
		state.FailedShots[shotID] = msg
		if firstKind == "" {
			firstKind = job.ErrorKind
		}
	}
	snap := run.Snapshot()
	if len(state.Clips) == 0 {
		if firstKind == "" {
			firstKind = services.KindFatal
		}
		return &services.Error{Kind: firstKind, Op: "episode generate_video", Message: "no shot produced a video: " + snap.Summary()}
	}
	if len(state.FailedShots) > 0 {
		logging.WarnWithContext(logger, "some shots failed to generate", "shots_failed",
			logging.Int("failed", len(state.FailedShots)),
			logging.String(logging.FieldBatchID, run.ID),
			logging.String(logging.FieldImpact, "episode is assembled from the shots that succeeded"),
		)
	}
	return nil
}

func batchPercent(p batch.Progress) float64 {
	if p.Total == 0 {
		return 100
	}
	return float64(p.Completed+p.Failed+p.Cancelled) / float64(p.Total) * 100
}

func (c *Coordinator) synthesizeAudio(ctx context.Context, logger *slog.Logger, state *State, report func(float64)) error {
	if c.deps.Audio == nil {
		logger.Debug("no audio synthesizer configured, skipping dialogue and score")
		return nil
	}
	ep := state.Episode
	type task struct {
		run func() error
	}
	var tasks []task
	for _, shot := range ep.Ordered() {
		if shot.Dialogue == nil {
			continue
		}
		if _, ok := state.Clips[shot.ID]; !ok {
			continue
		}
		if _, done := state.Dialogue[shot.ID]; done {
			continue
		}
		tasks = append(tasks, task{run: func() error {
			req := audio.DialogueRequest{
				ShotID:    shot.ID,
				Character: shot.Dialogue.Character,
				Voice:     shot.Dialogue.Voice,
				Text:      shot.Dialogue.Text,
				Mood:      moodTags(ep, shot),
				LipSync:   shot.Dialogue.LipSync,
			}
			track, err := c.deps.Audio.Dialogue(ctx, req)
			if err != nil {
				return err
			}
			state.Dialogue[shot.ID] = track
			return nil
		}})
	}
	durations := sceneDurations(ep, state.Clips)
	for _, scene := range ep.Scenes {
		if scene.ScoreIntensity < c.opts.ScoreThreshold || durations[scene.ID] <= 0 {
			continue
		}
		if _, done := state.Scores[scene.ID]; done {
			continue
		}
		tasks = append(tasks, task{run: func() error {
			track, err := c.deps.Audio.Score(ctx, audio.ScoreRequest{
				SceneID:         scene.ID,
				Mood:            scene.Mood,
				Intensity:       scene.ScoreIntensity,
				DurationSeconds: durations[scene.ID],
			})
			if err != nil {
				return err
			}
			state.Scores[scene.ID] = track
			return nil
		}})
	}
	for i, t := range tasks {
		if err := t.run(); err != nil {
			return err
		}
		report(float64(i+1) / float64(len(tasks)) * 100)
	}
	return nil
}

func moodTags(ep *Episode, shot Shot) []string {
	var tags []string
	if scene, ok := ep.Scene(shot.SceneID); ok {
		tags = append(tags, scene.Mood...)
	}
	if shot.Mood != "" {
		tags = append(tags, shot.Mood)
	}
	return tags
}

func (c *Coordinator) buildTimeline(state *State) error {
	tl, err := BuildTimeline(state.Episode, state.Clips, state.Dialogue, state.Scores, c.opts.Timeline)
	if err != nil {
		return err
	}
	state.Timeline = &tl
	return nil
}

func (c *Coordinator) render(ctx context.Context, logger *slog.Logger, state *State, report func(float64)) error {
	settings := c.opts.Settings
	settings.OutputPath = filepath.Join(c.opts.OutputDir, state.EpisodeID, state.EpisodeID+settings.Extension())
	var lastStage composition.Stage
	observe := func(snap composition.Snapshot) {
		report(snap.ProgressPercent)
		if snap.Stage != lastStage {
			lastStage = snap.Stage
			state.Render = &snap
			c.save(ctx, logger, state)
		}
	}
	snap, err := c.deps.Renderer.Render(ctx, *state.Timeline, settings, observe)
	state.Render = &snap
	if err != nil {
		return err
	}
	if snap.OutputPath == "" {
		return services.New(services.KindFatal, "episode render", "renderer returned no output path", nil)
	}
	state.OutputPath = snap.OutputPath
	state.DurationSeconds = snap.DurationSeconds
	if state.DurationSeconds == 0 {
		state.DurationSeconds = state.Timeline.TotalDurationSeconds()
	}
	return nil
}

func (c *Coordinator) persist(ctx context.Context, state *State) error {
	now := c.opts.Now()
	state.Status = StatusCompleted
	state.CompletedAt = &now
	state.UpdatedAt = now
	if err := c.deps.States.SaveState(ctx, state); err != nil {
		state.Status = StatusFailed
		state.CompletedAt = nil
		if errors.Is(err, context.Canceled) {
			return services.New(services.KindCancelled, "episode persist", "save state", err)
		}
		return services.New(services.KindTransient, "episode persist", fmt.Sprintf("save state for %s", state.EpisodeID), err)
	}
	return nil
}

func clamp(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}
