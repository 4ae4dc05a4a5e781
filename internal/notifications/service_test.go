package notifications_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"reelsmith/internal/batch"
	"reelsmith/internal/config"
	"reelsmith/internal/episode"
	"reelsmith/internal/logging"
	"reelsmith/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = ""
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventEpisodeCompleted, notifications.Payload{"episodeID": "pilot"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:  "episode completed",
			event: notifications.EventEpisodeCompleted,
			payload: notifications.Payload{
				"episodeID":  "pilot",
				"outputPath": "/out/pilot/pilot.mp4",
			},
			expectTitle:    "Reelsmith - Episode Ready",
			expectMessage:  "✅ Episode ready: pilot\nFile: /out/pilot/pilot.mp4",
			expectTags:     "reelsmith,episode,completed",
			expectPriority: "high",
		},
		{
			name:  "episode failed",
			event: notifications.EventEpisodeFailed,
			payload: notifications.Payload{
				"episodeID": "pilot",
				"phase":     "render",
				"error":     "ffmpeg exited 1",
				"resumable": true,
			},
			expectTitle:    "Reelsmith - Episode Failed",
			expectMessage:  "❌ Episode pilot failed during render: ffmpeg exited 1\nResumable: run assemble again",
			expectTags:     "reelsmith,episode,failed",
			expectPriority: "high",
		},
		{
			name:  "batch with failures",
			event: notifications.EventBatchCompleted,
			payload: notifications.Payload{
				"batchID":   "b-1",
				"completed": 4,
				"failed":    1,
				"total":     5,
			},
			expectTitle:   "Reelsmith - Batch Complete (with errors)",
			expectMessage: "🎞️ Batch b-1: 4/5 clips generated, 1 failed",
			expectTags:    "reelsmith,batch,completed",
		},
		{
			name:  "error",
			event: notifications.EventError,
			payload: notifications.Payload{
				"context": "daemon",
				"error":   "lock held",
			},
			expectTitle:    "Reelsmith - Error",
			expectMessage:  "❌ Error with daemon: lock held",
			expectTags:     "reelsmith,error,alert",
			expectPriority: "high",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var captured struct {
				title    string
				tags     string
				priority string
				body     string
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("unexpected method: %s", r.Method)
				}
				captured.title = r.Header.Get("Title")
				captured.tags = r.Header.Get("Tags")
				captured.priority = r.Header.Get("Priority")
				body, err := io.ReadAll(r.Body)
				if err != nil {
					t.Errorf("read body: %v", err)
				}
				captured.body = string(body)
				_ = r.Body.Close()
				w.WriteHeader(http.StatusOK)
			}))
			defer server.Close()

			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL
			cfg.Notifications.RequestTimeout = 5

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}

			if captured.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, captured.title)
			}
			if captured.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, captured.body)
			}
			if captured.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, captured.tags)
			}
			if captured.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, captured.priority)
			}
		})
	}
}

func TestNtfyServiceHonoursDisabledFamilies(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected call for disabled event: %s", r.Header.Get("Title"))
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Batches = false
	cfg.Notifications.Episodes = false

	svc := notifications.NewService(&cfg)
	for _, event := range []notifications.Event{notifications.EventBatchCompleted, notifications.EventEpisodeCompleted, "unknown"} {
		if err := svc.Publish(context.Background(), event, notifications.Payload{"value": "ignored"}); err != nil {
			t.Fatalf("expected no error for disabled event %s, got %v", event, err)
		}
	}
}

func TestNtfyServiceReportsServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "topic closed", http.StatusForbidden)
	}))
	defer server.Close()

	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	if err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil); err == nil {
		t.Fatal("expected error for 403 response")
	}
}

type recordingService struct {
	events chan notifications.Event
}

func (r recordingService) Publish(_ context.Context, event notifications.Event, _ notifications.Payload) error {
	r.events <- event
	return nil
}

func TestHooksPublishTerminalEventsOnly(t *testing.T) {
	rec := recordingService{events: make(chan notifications.Event, 4)}
	sub := notifications.EpisodeSubscriber(rec, logging.NewNop())

	sub(episode.ProgressEvent{EpisodeID: "ep", Phase: episode.PhaseRender, Percent: 40, Status: episode.StatusRunning})
	sub(episode.ProgressEvent{EpisodeID: "ep", Phase: episode.PhaseRender, Status: episode.StatusFailed, Resumable: true})
	notifications.BatchFinished(rec, logging.NewNop())(batch.Snapshot{ID: "b", Progress: batch.Progress{Total: 1, Completed: 1}})

	got := map[notifications.Event]bool{}
	for range 2 {
		select {
		case ev := <-rec.events:
			got[ev] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for notifications, got %v", got)
		}
	}
	if !got[notifications.EventEpisodeFailed] || !got[notifications.EventBatchCompleted] {
		t.Fatalf("published = %v", got)
	}
	select {
	case ev := <-rec.events:
		t.Fatalf("unexpected extra event %s", ev)
	case <-time.After(50 * time.Millisecond):
	}
}
