package episode

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"reelsmith/internal/audio"
	"reelsmith/internal/batch"
	"reelsmith/internal/composition"
	"reelsmith/internal/generation"
	"reelsmith/internal/logging"
	"reelsmith/internal/provider"
	"reelsmith/internal/services"
	"reelsmith/internal/timeline"
)

type fakeSource struct {
	mu       sync.Mutex
	episodes map[string]*Episode
	err      error
	calls    int
}

func (f *fakeSource) Episode(_ context.Context, id string) (*Episode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	ep, ok := f.episodes[id]
	if !ok {
		return nil, services.New(services.KindValidation, "fetch", "unknown episode "+id, nil)
	}
	copied := *ep
	return &copied, nil
}

type stubProvider struct{ profile generation.Profile }

func (s stubProvider) Profile() generation.Profile { return s.profile }
func (stubProvider) Submit(context.Context, provider.Submission) (generation.Handle, error) {
	return generation.Handle{}, errors.New("not used")
}
func (stubProvider) PollStatus(context.Context, generation.Handle) (provider.PollResult, error) {
	return provider.PollResult{}, errors.New("not used")
}
func (stubProvider) FetchResult(context.Context, generation.Handle) (string, error) {
	return "", errors.New("not used")
}
func (stubProvider) Cancel(context.Context, generation.Handle) error { return nil }

// instantDispatcher completes every job except the shots listed in fail.
type instantDispatcher struct {
	calls atomic.Int32
	fail  map[string]error
}

func (d *instantDispatcher) Attempt(_ context.Context, job *generation.Job, p provider.Provider, observe provider.Observer) error {
	d.calls.Add(1)
	job.ProviderID = p.Profile().ID
	if job.AdvanceIfBehind(generation.StatusSubmitted, time.Now()) && observe != nil {
		observe(job.Clone())
	}
	if err := d.fail[job.Request.ShotID]; err != nil {
		return err
	}
	return job.Complete("https://cdn.example/"+job.Request.ShotID+".mp4", time.Now())
}

type fakeSynth struct {
	mu        sync.Mutex
	dialogue  []string
	scores    []string
	failFirst error
}

func (f *fakeSynth) Dialogue(_ context.Context, req audio.DialogueRequest) (audio.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFirst != nil {
		err := f.failFirst
		f.failFirst = nil
		return audio.Track{}, err
	}
	f.dialogue = append(f.dialogue, req.ShotID)
	return audio.Track{
		URL:             "https://audio.example/" + req.ShotID + ".wav",
		DurationSeconds: 6,
		Words:           []audio.WordTiming{{Word: "hi", Start: 0.5, End: 5.5}},
	}, nil
}

func (f *fakeSynth) Score(_ context.Context, req audio.ScoreRequest) (audio.Track, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, req.SceneID)
	return audio.Track{URL: "https://audio.example/" + req.SceneID + "-score.wav", DurationSeconds: 60}, nil
}

type fakeRenderer struct {
	mu        sync.Mutex
	calls     int
	timelines []timeline.Timeline
	failNext  error
}

func (f *fakeRenderer) Render(_ context.Context, tl timeline.Timeline, s composition.OutputSettings, observe func(composition.Snapshot)) (composition.Snapshot, error) {
	f.mu.Lock()
	f.calls++
	f.timelines = append(f.timelines, tl)
	failure := f.failNext
	f.failNext = nil
	f.mu.Unlock()

	snap := composition.Snapshot{ID: "render", Status: composition.StatusBuilding, Stage: composition.StageConcat, ProgressPercent: 10}
	if observe != nil {
		observe(snap)
	}
	if failure != nil {
		snap.Status = composition.StatusFailed
		snap.Error = failure.Error()
		return snap, failure
	}
	if err := os.MkdirAll(filepath.Dir(s.OutputPath), 0o755); err != nil {
		return snap, err
	}
	if err := os.WriteFile(s.OutputPath, []byte("episode"), 0o644); err != nil {
		return snap, err
	}
	snap.Status = composition.StatusCompleted
	snap.Stage = composition.StageEncode
	snap.ProgressPercent = 100
	snap.OutputPath = s.OutputPath
	snap.DurationSeconds = tl.TotalDurationSeconds()
	return snap, nil
}

func (f *fakeRenderer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type harness struct {
	source     *fakeSource
	dispatcher *instantDispatcher
	synth      *fakeSynth
	renderer   *fakeRenderer
	states     *MemoryStateStore
	coord      *Coordinator
}

func newHarness(t *testing.T, episodes ...*Episode) *harness {
	t.Helper()
	reg, err := provider.NewRegistry(stubProvider{profile: generation.Profile{
		ID:                   "stub",
		Kind:                 "luma",
		Tier:                 generation.TierStandard,
		MaxDurationSeconds:   10,
		SupportedResolutions: []string{"1280x720"},
		MaxConcurrentJobs:    2,
		CostPerSecond:        0.01,
	}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	h := &harness{
		source:     &fakeSource{episodes: make(map[string]*Episode)},
		dispatcher: &instantDispatcher{fail: make(map[string]error)},
		synth:      &fakeSynth{},
		renderer:   &fakeRenderer{},
		states:     NewMemoryStateStore(),
	}
	for _, ep := range episodes {
		h.source.episodes[ep.ID] = ep
	}
	manager := batch.NewManager(reg, h.dispatcher, batch.Options{GlobalMaxInFlight: 4}, logging.NewNop())
	h.coord = NewCoordinator(Dependencies{
		Source:   h.source,
		Batches:  manager,
		Audio:    h.synth,
		Renderer: h.renderer,
		States:   h.states,
	}, Options{
		Settings:  composition.OutputSettings{Width: 1280, Height: 720, FPS: 24, VideoBitrate: "4M", Format: "mp4"},
		OutputDir: t.TempDir(),
		Timeline: TimelineOptions{
			DefaultTransition: timeline.Transition{Kind: timeline.TransitionCrossfade, DurationSeconds: 0.5},
			ColorGrade:        "neutral",
			ScoreGainDB:       -12,
		},
		ScoreThreshold:   0.5,
		ProgressInterval: time.Millisecond,
	}, logging.NewNop())
	return h
}

func sampleEpisode(id string, shots int) *Episode {
	ep := &Episode{
		ID:     id,
		Scenes: []Scene{{ID: "harbor", Mood: []string{"calm"}, ScoreIntensity: 0.8}, {ID: "quiet", ScoreIntensity: 0.1}},
	}
	for i := 1; i <= shots; i++ {
		scene := "harbor"
		if i > 2 {
			scene = "quiet"
		}
		ep.Shots = append(ep.Shots, Shot{
			ID:                fmt.Sprintf("s%d", i),
			SceneID:           scene,
			Order:             i,
			StillImageURL:     fmt.Sprintf("https://img.example/%d.png", i),
			DurationSeconds:   4,
			MotionDescription: "boats drift",
		})
	}
	return ep
}

func clipIDs(tl timeline.Timeline) []string {
	var ids []string
	for _, c := range tl.Primary().Clips {
		ids = append(ids, c.ShotID)
	}
	return ids
}

func TestAssembleRunsEveryPhaseInOrder(t *testing.T) {
	ep := sampleEpisode("ep1", 3)
	ep.Shots[0].Order = 2
	ep.Shots[1].Order = 1
	ep.Shots[1].Dialogue = &Dialogue{Character: "Mara", Text: "Hold the line."}
	ep.Shots[2].VideoURL = "https://upstream.example/s3.mp4"
	h := newHarness(t, ep)

	var mu sync.Mutex
	completed := map[Phase]bool{}
	var order []Phase
	h.coord.Subscribe(func(ev ProgressEvent) {
		mu.Lock()
		defer mu.Unlock()
		if ev.Percent == 100 && !completed[ev.Phase] {
			completed[ev.Phase] = true
			order = append(order, ev.Phase)
		}
	})

	out, err := h.coord.Assemble(context.Background(), "ep1")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if out.Cached || out.OutputPath == "" {
		t.Fatalf("output = %+v", out)
	}
	if _, err := os.Stat(out.OutputPath); err != nil {
		t.Fatalf("output not written: %v", err)
	}
	mu.Lock()
	if fmt.Sprint(order) != fmt.Sprint(Phases) {
		t.Fatalf("phase order = %v", order)
	}
	mu.Unlock()
	if got := h.dispatcher.calls.Load(); got != 2 {
		t.Fatalf("expected 2 generated shots, got %d", got)
	}
	tl := h.renderer.timelines[0]
	if ids := fmt.Sprint(clipIDs(tl)); ids != "[s2 s1 s3]" {
		t.Fatalf("clip order = %s", ids)
	}
	if fmt.Sprint(h.synth.dialogue) != "[s2]" || fmt.Sprint(h.synth.scores) != "[harbor]" {
		t.Fatalf("audio calls dialogue=%v scores=%v", h.synth.dialogue, h.synth.scores)
	}
	state, _ := h.states.LoadState(context.Background(), "ep1")
	if state.Status != StatusCompleted || state.OutputPath != out.OutputPath || state.Render == nil {
		t.Fatalf("state = %+v", state)
	}
}

func TestAssembleReturnsCachedOutputWithoutRendering(t *testing.T) {
	h := newHarness(t, sampleEpisode("ep1", 2))
	first, err := h.coord.Assemble(context.Background(), "ep1")
	if err != nil {
		t.Fatalf("first Assemble: %v", err)
	}
	second, err := h.coord.Assemble(context.Background(), "ep1")
	if err != nil {
		t.Fatalf("second Assemble: %v", err)
	}
	if !second.Cached || second.OutputPath != first.OutputPath {
		t.Fatalf("second output = %+v, first = %+v", second, first)
	}
	if h.renderer.count() != 1 || h.source.calls != 1 {
		t.Fatalf("renderer calls = %d, source calls = %d", h.renderer.count(), h.source.calls)
	}
}

func TestAssembleResumesAtFailedPhase(t *testing.T) {
	h := newHarness(t, sampleEpisode("ep1", 3))
	h.renderer.failNext = services.New(services.KindCancelled, "composition concat", "render cancelled", context.Canceled)

	_, err := h.coord.Assemble(context.Background(), "ep1")
	if services.KindOf(err) != services.KindCancelled {
		t.Fatalf("expected cancelled render error, got %v", err)
	}
	if details := services.Details(err); details.Phase != string(PhaseRender) {
		t.Fatalf("phase = %q", details.Phase)
	}
	state, _ := h.states.LoadState(context.Background(), "ep1")
	if state.Status != StatusFailed || state.FailedPhase != PhaseRender || !state.Resumable {
		t.Fatalf("state after failure = %+v", state)
	}
	if len(state.Clips) != 3 || state.Timeline == nil {
		t.Fatalf("earlier artifacts should be kept: clips=%d timeline=%v", len(state.Clips), state.Timeline != nil)
	}

	out, err := h.coord.Assemble(context.Background(), "ep1")
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if out.OutputPath == "" {
		t.Fatal("expected output after resume")
	}
	if h.source.calls != 1 || h.dispatcher.calls.Load() != 3 {
		t.Fatalf("resume repeated finished work: source=%d dispatch=%d", h.source.calls, h.dispatcher.calls.Load())
	}
	if h.renderer.count() != 2 {
		t.Fatalf("renderer calls = %d", h.renderer.count())
	}
	state, _ = h.states.LoadState(context.Background(), "ep1")
	if state.Attempts != 2 {
		t.Fatalf("attempts = %d", state.Attempts)
	}
}

func TestAssembleResumesAudioWithoutRepeatingGeneratedShots(t *testing.T) {
	ep := sampleEpisode("ep1", 2)
	ep.Shots[0].Dialogue = &Dialogue{Text: "Ready."}
	h := newHarness(t, ep)
	h.synth.failFirst = &services.Error{Kind: services.KindExhausted, Op: "audio", Message: "service overloaded"}

	if _, err := h.coord.Assemble(context.Background(), "ep1"); services.KindOf(err) != services.KindExhausted {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	state, _ := h.states.LoadState(context.Background(), "ep1")
	if state.FailedPhase != PhaseSynthesizeAudio || !state.Resumable {
		t.Fatalf("state = %+v", state)
	}
	if _, err := h.coord.Assemble(context.Background(), "ep1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if h.dispatcher.calls.Load() != 2 {
		t.Fatalf("shots regenerated: %d calls", h.dispatcher.calls.Load())
	}
}

func TestAssembleProceedsWithPartialBatch(t *testing.T) {
	h := newHarness(t, sampleEpisode("ep1", 5))
	h.dispatcher.fail["s3"] = &services.Error{Kind: services.KindFatal, Op: "poll", Message: "provider rejected frame"}

	out, err := h.coord.Assemble(context.Background(), "ep1")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if fmt.Sprint(out.FailedShots) != "[s3]" {
		t.Fatalf("failed shots = %v", out.FailedShots)
	}
	if ids := fmt.Sprint(clipIDs(h.renderer.timelines[0])); ids != "[s1 s2 s4 s5]" {
		t.Fatalf("clips = %s", ids)
	}
}

func TestAssembleFailsWhenNoShotSucceeds(t *testing.T) {
	h := newHarness(t, sampleEpisode("ep1", 2))
	exhausted := &services.Error{Kind: services.KindExhausted, Op: "submit", Message: "rate limited"}
	h.dispatcher.fail["s1"] = exhausted
	h.dispatcher.fail["s2"] = exhausted

	_, err := h.coord.Assemble(context.Background(), "ep1")
	if services.KindOf(err) != services.KindExhausted {
		t.Fatalf("expected exhausted error, got %v", err)
	}
	state, _ := h.states.LoadState(context.Background(), "ep1")
	if state.FailedPhase != PhaseGenerateVideo || !state.Resumable || h.renderer.count() != 0 {
		t.Fatalf("state = %+v renders = %d", state, h.renderer.count())
	}
}

func TestHardFailureIsNotResumable(t *testing.T) {
	h := newHarness(t)
	var events []ProgressEvent
	h.coord.Subscribe(func(ev ProgressEvent) { events = append(events, ev) })

	_, err := h.coord.Assemble(context.Background(), "missing")
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	state, _ := h.states.LoadState(context.Background(), "missing")
	if state.Resumable || state.ErrorKind != services.KindValidation || state.FailedPhase != PhaseFetchShots {
		t.Fatalf("state = %+v", state)
	}
	last := events[len(events)-1]
	if last.Status != StatusFailed || last.Resumable || last.Message == "" {
		t.Fatalf("last event = %+v", last)
	}
}

func TestAssembleRejectsConcurrentRuns(t *testing.T) {
	h := newHarness(t, sampleEpisode("ep1", 1))
	if !h.coord.claim("ep1") {
		t.Fatal("claim failed")
	}
	defer h.coord.release("ep1")
	if _, err := h.coord.Assemble(context.Background(), "ep1"); services.KindOf(err) != services.KindTransient {
		t.Fatalf("expected transient conflict, got %v", err)
	}
	if !h.coord.Running("ep1") {
		t.Fatal("expected ep1 to be reported running")
	}
}

func TestAssembleRerendersWhenCachedOutputIsGone(t *testing.T) {
	h := newHarness(t, sampleEpisode("ep1", 2))
	out, err := h.coord.Assemble(context.Background(), "ep1")
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if err := os.Remove(out.OutputPath); err != nil {
		t.Fatalf("remove: %v", err)
	}
	again, err := h.coord.Assemble(context.Background(), "ep1")
	if err != nil {
		t.Fatalf("Assemble again: %v", err)
	}
	if again.Cached || h.renderer.count() != 2 || h.dispatcher.calls.Load() != 2 {
		t.Fatalf("again=%+v renders=%d dispatch=%d", again, h.renderer.count(), h.dispatcher.calls.Load())
	}
}
