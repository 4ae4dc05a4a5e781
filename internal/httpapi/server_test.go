package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"reelsmith/internal/batch"
	"reelsmith/internal/episode"
	"reelsmith/internal/generation"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

type fakeBackend struct {
	assembled []string
	running   map[string]bool
	states    map[string]*episode.State
	batches   map[string]*batch.Snapshot
	started   []generation.Request
	cancelled []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		running: map[string]bool{},
		states:  map[string]*episode.State{},
		batches: map[string]*batch.Snapshot{},
	}
}

func (f *fakeBackend) Assemble(id string) error {
	if f.running[id] {
		return services.New(services.KindTransient, "assemble", "episode "+id+" is already being assembled", nil)
	}
	f.assembled = append(f.assembled, id)
	return nil
}

func (f *fakeBackend) EpisodeState(_ context.Context, id string) (*episode.State, bool, error) {
	return f.states[id], f.running[id], nil
}

func (f *fakeBackend) StartBatch(_ context.Context, episodeID string, reqs []generation.Request) (batch.Snapshot, error) {
	for _, r := range reqs {
		if err := r.Validate(); err != nil {
			return batch.Snapshot{}, err
		}
	}
	f.started = append(f.started, reqs...)
	snap := batch.Snapshot{ID: "b-1", EpisodeID: episodeID, Status: batch.StatusRunning, Progress: batch.Progress{Total: len(reqs), Queued: len(reqs)}}
	f.batches[snap.ID] = &snap
	return snap, nil
}

func (f *fakeBackend) Batch(_ context.Context, id string) (*batch.Snapshot, error) {
	return f.batches[id], nil
}

func (f *fakeBackend) CancelBatch(id string) bool {
	if _, ok := f.batches[id]; !ok {
		return false
	}
	f.cancelled = append(f.cancelled, id)
	return true
}

func (f *fakeBackend) Providers() []generation.Profile {
	return []generation.Profile{{ID: "runway", MaxDurationSeconds: 10}}
}

func serve(t *testing.T, h http.Handler, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestAssembleIsAccepted(t *testing.T) {
	backend := newFakeBackend()
	h := NewRouter(backend, "", logging.NewNop())

	w := serve(t, h, http.MethodPost, "/api/episodes/pilot/assemble", "", nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	var resp AssembleResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.EpisodeID != "pilot" || resp.StatusURL != "/api/episodes/pilot" {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(backend.assembled) != 1 || backend.assembled[0] != "pilot" {
		t.Fatalf("assembled = %v", backend.assembled)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}

	backend.running["pilot"] = true
	w = serve(t, h, http.MethodPost, "/api/episodes/pilot/assemble", "", map[string]string{"X-Request-ID": "req-7"})
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for running episode, got %d", w.Code)
	}
	var errResp ErrorResponse
	_ = json.Unmarshal(w.Body.Bytes(), &errResp)
	if errResp.Kind != string(services.KindTransient) || errResp.RequestID != "req-7" {
		t.Fatalf("unexpected error body %+v", errResp)
	}
}

func TestEpisodeStatus(t *testing.T) {
	backend := newFakeBackend()
	backend.states["pilot"] = &episode.State{EpisodeID: "pilot", Status: episode.StatusFailed, FailedPhase: episode.PhaseRender, Resumable: true}
	h := NewRouter(backend, "", logging.NewNop())

	w := serve(t, h, http.MethodGet, "/api/episodes/pilot", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var resp EpisodeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.State == nil || resp.State.FailedPhase != episode.PhaseRender || resp.Running {
		t.Fatalf("unexpected response %+v", resp)
	}

	if w := serve(t, h, http.MethodGet, "/api/episodes/unknown", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestBatchLifecycle(t *testing.T) {
	backend := newFakeBackend()
	h := NewRouter(backend, "", logging.NewNop())

	body := `{"episode_id":"pilot","requests":[{"shot_id":"s1","source_image_ref":"https://img/1.png","target_duration_seconds":4,"motion_description":"drift"}]}`
	w := serve(t, h, http.MethodPost, "/api/batches", body, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(backend.started) != 1 || backend.started[0].ShotID != "s1" {
		t.Fatalf("started = %+v", backend.started)
	}

	w = serve(t, h, http.MethodGet, "/api/batches/b-1", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var snap batch.Snapshot
	if err := json.Unmarshal(w.Body.Bytes(), &snap); err != nil || snap.Progress.Total != 1 {
		t.Fatalf("snapshot = %+v, %v", snap, err)
	}

	if w := serve(t, h, http.MethodDelete, "/api/batches/b-1", "", nil); w.Code != http.StatusAccepted {
		t.Fatalf("expected 202 on cancel, got %d", w.Code)
	}
	if w := serve(t, h, http.MethodDelete, "/api/batches/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on unknown cancel, got %d", w.Code)
	}
	if w := serve(t, h, http.MethodGet, "/api/batches/nope", "", nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on unknown batch, got %d", w.Code)
	}
}

func TestStartBatchRejectsBadInput(t *testing.T) {
	h := NewRouter(newFakeBackend(), "", logging.NewNop())

	cases := map[string]string{
		"malformed":       `{`,
		"empty":           `{"requests":[]}`,
		"invalid shot":    `{"requests":[{"shot_id":"s1"}]}`,
		"missing shot id": `{"requests":[{"shot_id":"","source_image_ref":"x","target_duration_seconds":1,"subject":"a"}]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if w := serve(t, h, http.MethodPost, "/api/batches", body, nil); w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func TestBearerTokenRequired(t *testing.T) {
	h := NewRouter(newFakeBackend(), "s3cret", logging.NewNop())

	if w := serve(t, h, http.MethodGet, "/api/providers", "", nil); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", w.Code)
	}
	if w := serve(t, h, http.MethodGet, "/api/providers", "", map[string]string{"Authorization": "Bearer wrong"}); w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", w.Code)
	}
	w := serve(t, h, http.MethodGet, "/api/providers", "", map[string]string{"Authorization": "Bearer s3cret"})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"runway"`) {
		t.Fatalf("expected providers, got %d: %s", w.Code, w.Body.String())
	}
	if w := serve(t, h, http.MethodGet, "/api/health", "", nil); w.Code != http.StatusOK {
		t.Fatalf("health must not require a token, got %d", w.Code)
	}
}
