package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"reelsmith/internal/generation"
	"reelsmith/internal/logging"
	"reelsmith/internal/provider"
	"reelsmith/internal/services"
)

type stubProvider struct {
	profile generation.Profile
}

func newStub(id string, cost float64, maxJobs int) *stubProvider {
	return &stubProvider{profile: generation.Profile{
		ID:                   id,
		Kind:                 "luma",
		Tier:                 generation.TierStandard,
		MaxDurationSeconds:   10,
		SupportedResolutions: []string{"1280x720"},
		MaxConcurrentJobs:    maxJobs,
		CostPerSecond:        cost,
	}}
}

func (s *stubProvider) Profile() generation.Profile { return s.profile }
func (s *stubProvider) Submit(context.Context, provider.Submission) (generation.Handle, error) {
	return generation.Handle{}, errors.New("not used")
}
func (s *stubProvider) PollStatus(context.Context, generation.Handle) (provider.PollResult, error) {
	return provider.PollResult{}, errors.New("not used")
}
func (s *stubProvider) FetchResult(context.Context, generation.Handle) (string, error) {
	return "", errors.New("not used")
}
func (s *stubProvider) Cancel(context.Context, generation.Handle) error { return nil }

// fakeDispatcher completes jobs in-process and records concurrency.
type fakeDispatcher struct {
	mu        sync.Mutex
	inFlight  map[string]int
	peak      map[string]int
	total     int
	peakTotal int
	calls     []string
	gates     map[string]chan struct{}
	errFor    func(job *generation.Job, providerID string) error
	started   chan string
}

func newFakeDispatcher() *fakeDispatcher {
	return &fakeDispatcher{
		inFlight: make(map[string]int),
		peak:     make(map[string]int),
		gates:    make(map[string]chan struct{}),
		started:  make(chan string, 64),
	}
}

func (f *fakeDispatcher) Attempt(ctx context.Context, job *generation.Job, p provider.Provider, observe provider.Observer) error {
	id := p.Profile().ID
	shot := job.Request.ShotID
	f.mu.Lock()
	f.inFlight[id]++
	f.total++
	f.peak[id] = max(f.peak[id], f.inFlight[id])
	f.peakTotal = max(f.peakTotal, f.total)
	f.calls = append(f.calls, shot)
	gate := f.gates[shot]
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inFlight[id]--
		f.total--
		f.mu.Unlock()
	}()

	job.ProviderID = id
	job.Attempts = append(job.Attempts, generation.Attempt{ProviderID: id})
	if job.AdvanceIfBehind(generation.StatusSubmitted, time.Now()) && observe != nil {
		observe(job.Clone())
	}
	f.started <- shot

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return &services.Error{Kind: services.KindCancelled, Cause: ctx.Err()}
		}
	} else {
		time.Sleep(2 * time.Millisecond)
	}
	if f.errFor != nil {
		if err := f.errFor(job, id); err != nil {
			return err
		}
	}
	return job.Complete("https://cdn.example/"+shot+".mp4", time.Now())
}

func (f *fakeDispatcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func requests(n int, hint string) []generation.Request {
	out := make([]generation.Request, n)
	for i := range out {
		out[i] = generation.Request{
			ShotID:                fmt.Sprintf("s%d", i+1),
			SourceImageRef:        fmt.Sprintf("frames/%d.png", i+1),
			TargetDurationSeconds: 4,
			MotionDescription:     "waves roll in",
			ProviderHint:          hint,
		}
	}
	return out
}

func newManager(t *testing.T, d Dispatcher, opts Options, providers ...provider.Provider) *Manager {
	t.Helper()
	reg, err := provider.NewRegistry(providers...)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return NewManager(reg, d, opts, logging.NewNop())
}

func waitStarted(t *testing.T, f *fakeDispatcher) string {
	t.Helper()
	select {
	case shot := <-f.started:
		return shot
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for an attempt to start")
		return ""
	}
}

func TestRunBatchHonoursProviderLimit(t *testing.T) {
	f := newFakeDispatcher()
	m := newManager(t, f, Options{GlobalMaxInFlight: 8}, newStub("a", 0.1, 2))
	snap, err := m.RunBatch(context.Background(), "ep1", requests(6, ""))
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if snap.Progress.Completed != 6 || snap.Status != StatusCompleted {
		t.Fatalf("unexpected snapshot %+v", snap.Progress)
	}
	if f.peak["a"] > 2 {
		t.Fatalf("provider limit exceeded: peak %d", f.peak["a"])
	}
}

func TestRunBatchHonoursGlobalLimit(t *testing.T) {
	f := newFakeDispatcher()
	m := newManager(t, f, Options{GlobalMaxInFlight: 2}, newStub("a", 0.1, 3), newStub("b", 0.2, 3))
	reqs := append(requests(3, "a"), requests(3, "b")...)
	for i := range reqs {
		reqs[i].ShotID = fmt.Sprintf("shot-%d", i)
	}
	if _, err := m.RunBatch(context.Background(), "ep1", reqs); err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if f.peakTotal > 2 {
		t.Fatalf("global limit exceeded: peak %d", f.peakTotal)
	}
	if f.callCount() != 6 {
		t.Fatalf("calls = %d", f.callCount())
	}
}

func TestSchedulerSkipsProviderAtCapacity(t *testing.T) {
	f := newFakeDispatcher()
	gate := make(chan struct{})
	f.gates["s1"] = gate
	m := newManager(t, f, Options{GlobalMaxInFlight: 8}, newStub("a", 0.1, 1), newStub("b", 0.2, 1))
	reqs := requests(3, "a")
	reqs[2].ProviderHint = "b"

	run, err := m.Start(context.Background(), "ep1", reqs)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	first, second := waitStarted(t, f), waitStarted(t, f)
	got := map[string]bool{first: true, second: true}
	if !got["s1"] || !got["s3"] {
		t.Fatalf("expected s1 and s3 to start while s2 waits, got %s and %s", first, second)
	}
	close(gate)
	if third := waitStarted(t, f); third != "s2" {
		t.Fatalf("expected s2 after slot freed, got %s", third)
	}
	if err := run.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if p := run.Progress(); p.Completed != 3 {
		t.Fatalf("progress = %+v", p)
	}
}

func TestCapabilityFailureRequeuesOnFallback(t *testing.T) {
	f := newFakeDispatcher()
	f.errFor = func(job *generation.Job, providerID string) error {
		if providerID == "a" {
			return &services.Error{Kind: services.KindCapability, Message: "moderation"}
		}
		return nil
	}
	m := newManager(t, f, Options{GlobalMaxInFlight: 4, Fallback: true}, newStub("a", 0.1, 1), newStub("b", 0.2, 1))
	snap, _ := m.RunBatch(context.Background(), "ep1", requests(2, ""))
	if snap.Progress.Completed != 2 {
		t.Fatalf("progress = %+v", snap.Progress)
	}
	for _, job := range snap.Jobs {
		if job.ProviderID != "b" || len(job.Attempts) != 2 {
			t.Fatalf("job %s: provider %s attempts %d", job.Request.ShotID, job.ProviderID, len(job.Attempts))
		}
	}
}

func TestCapabilityFailureWithoutFallbackFails(t *testing.T) {
	f := newFakeDispatcher()
	f.errFor = func(*generation.Job, string) error {
		return &services.Error{Kind: services.KindCapability, Message: "moderation"}
	}
	m := newManager(t, f, Options{GlobalMaxInFlight: 4}, newStub("a", 0.1, 1), newStub("b", 0.2, 1))
	snap, _ := m.RunBatch(context.Background(), "ep1", requests(1, ""))
	if snap.Progress.Failed != 1 || snap.Jobs[0].ErrorKind != services.KindCapability {
		t.Fatalf("unexpected %+v", snap.Jobs[0])
	}
}

func TestPartialFailureDoesNotAbortBatch(t *testing.T) {
	f := newFakeDispatcher()
	f.errFor = func(job *generation.Job, _ string) error {
		if job.Request.ShotID == "s2" {
			return &services.Error{Kind: services.KindFatal, Message: "render crashed"}
		}
		return nil
	}
	m := newManager(t, f, Options{GlobalMaxInFlight: 4}, newStub("a", 0.1, 4))
	snap, err := m.RunBatch(context.Background(), "ep1", requests(4, ""))
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if snap.Progress.Completed != 3 || snap.Progress.Failed != 1 || !snap.Progress.Done() {
		t.Fatalf("progress = %+v", snap.Progress)
	}
	jobs := map[string]*generation.Job{}
	for _, job := range snap.Jobs {
		jobs[job.Request.ShotID] = job
	}
	if jobs["s2"].Status != generation.StatusFailed || jobs["s2"].ErrorMessage == "" {
		t.Fatalf("s2 = %+v", jobs["s2"])
	}
}

func TestCancelStopsEveryJob(t *testing.T) {
	f := newFakeDispatcher()
	for i := 1; i <= 4; i++ {
		f.gates[fmt.Sprintf("s%d", i)] = make(chan struct{})
	}
	m := newManager(t, f, Options{GlobalMaxInFlight: 8}, newStub("a", 0.1, 2))
	run, err := m.Start(context.Background(), "ep1", requests(4, ""))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStarted(t, f)
	waitStarted(t, f)
	run.Cancel()
	if err := run.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	snap := run.Snapshot()
	if snap.Status != StatusCancelled || snap.Progress.Cancelled != 4 {
		t.Fatalf("snapshot = %s %+v", snap.Status, snap.Progress)
	}
	if f.callCount() != 2 {
		t.Fatalf("queued jobs should not reach a provider, calls = %d", f.callCount())
	}
}

func TestCompletedRequestsAreServedFromCache(t *testing.T) {
	f := newFakeDispatcher()
	m := newManager(t, f, Options{GlobalMaxInFlight: 4}, newStub("a", 0.1, 2))
	reqs := requests(2, "")
	if _, err := m.RunBatch(context.Background(), "ep1", reqs); err != nil {
		t.Fatalf("first run: %v", err)
	}
	before := f.callCount()
	snap, err := m.RunBatch(context.Background(), "ep1", reqs)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if f.callCount() != before {
		t.Fatalf("provider called again: %d -> %d", before, f.callCount())
	}
	for _, job := range snap.Jobs {
		if !job.Cached || job.Status != generation.StatusCompleted || job.ResultAssetURL == "" {
			t.Fatalf("expected cached completed job, got %+v", job)
		}
	}
}

type memoryRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *memoryRecorder) RecordBatch(_ context.Context, snap Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func TestRecorderSeesEveryTransition(t *testing.T) {
	f := newFakeDispatcher()
	rec := &memoryRecorder{}
	var finished Snapshot
	m := newManager(t, f, Options{GlobalMaxInFlight: 4, Recorder: rec, OnFinish: func(s Snapshot) { finished = s }}, newStub("a", 0.1, 2))
	run, err := m.Start(context.Background(), "ep1", requests(2, ""))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	_ = run.Wait(context.Background())

	rec.mu.Lock()
	defer rec.mu.Unlock()
	// submitted + completed per job, plus the final status.
	if len(rec.snaps) < 5 {
		t.Fatalf("recorded %d snapshots", len(rec.snaps))
	}
	last := rec.snaps[len(rec.snaps)-1]
	if last.Status != StatusCompleted || last.Progress.Completed != 2 {
		t.Fatalf("last snapshot = %s %+v", last.Status, last.Progress)
	}
	if finished.ID != run.ID {
		t.Fatalf("OnFinish not called with run snapshot")
	}
	if _, ok := m.Get(run.ID); ok {
		t.Fatal("finished run should be evicted")
	}
}

func TestStartRequiresProviders(t *testing.T) {
	m := newManager(t, newFakeDispatcher(), Options{})
	if _, err := m.Start(context.Background(), "ep1", requests(1, "")); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestRunJobsKeyedByShot(t *testing.T) {
	f := newFakeDispatcher()
	m := newManager(t, f, Options{GlobalMaxInFlight: 4}, newStub("a", 0.1, 2))
	run, _ := m.Start(context.Background(), "ep1", requests(3, ""))
	_ = run.Wait(context.Background())
	jobs := run.Jobs()
	if len(jobs) != 3 || jobs["s2"] == nil || jobs["s2"].BatchID != run.ID || jobs["s2"].EpisodeID != "ep1" {
		t.Fatalf("jobs = %+v", jobs)
	}
}

func TestFinishedRunsAreEvicted(t *testing.T) {
	f := newFakeDispatcher()
	gate := make(chan struct{})
	f.gates["s1"] = gate
	rec := &memoryRecorder{}
	m := newManager(t, f, Options{GlobalMaxInFlight: 4, Recorder: rec}, newStub("a", 0.1, 2))
	run, err := m.Start(context.Background(), "ep1", requests(1, ""))
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitStarted(t, f)
	if got, ok := m.Get(run.ID); !ok || got != run {
		t.Fatal("active run not registered")
	}
	if len(m.Runs()) != 1 {
		t.Fatalf("runs = %d", len(m.Runs()))
	}
	close(gate)
	if err := run.Wait(context.Background()); err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if _, ok := m.Get(run.ID); ok {
		t.Fatal("finished run still registered")
	}
	if len(m.Runs()) != 0 {
		t.Fatalf("runs = %d after finish", len(m.Runs()))
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	last := rec.snaps[len(rec.snaps)-1]
	if last.ID != run.ID || last.Status != StatusCompleted || last.Progress.Completed != 1 {
		t.Fatalf("recorder missing final snapshot: %s %s %+v", last.ID, last.Status, last.Progress)
	}
	if snap := run.Snapshot(); snap.Status != StatusCompleted {
		t.Fatalf("caller's run lost its state: %s", snap.Status)
	}
}

func TestStartRejectsMalformedRequests(t *testing.T) {
	f := newFakeDispatcher()
	m := newManager(t, f, Options{GlobalMaxInFlight: 4}, newStub("a", 0.1, 2))
	reqs := requests(1, "")
	reqs = append(reqs,
		generation.Request{ShotID: "no-image", TargetDurationSeconds: 4, MotionDescription: "pan"},
		generation.Request{ShotID: "no-length", SourceImageRef: "frames/9.png", MotionDescription: "pan"},
	)
	snap, err := m.RunBatch(context.Background(), "ep1", reqs)
	if err != nil {
		t.Fatalf("RunBatch: %v", err)
	}
	if f.callCount() != 1 {
		t.Fatalf("malformed requests reached the dispatcher: calls = %d", f.callCount())
	}
	if snap.Progress.Total != 3 || snap.Progress.Completed != 1 || snap.Progress.Failed != 2 {
		t.Fatalf("progress = %+v", snap.Progress)
	}
	for _, job := range snap.Jobs {
		if job.Request.ShotID == "s1" {
			continue
		}
		if job.Status != generation.StatusFailed || job.ErrorKind != services.KindValidation || len(job.Attempts) != 0 {
			t.Fatalf("job %s = %s %s attempts=%d", job.Request.ShotID, job.Status, job.ErrorKind, len(job.Attempts))
		}
	}
}
