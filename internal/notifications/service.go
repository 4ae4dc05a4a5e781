package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"reelsmith/internal/config"
)

const userAgent = "reelsmith/0.1.0"

// Event enumerates notification kinds.
type Event string

const (
	EventEpisodeCompleted Event = "episode_completed"
	EventEpisodeFailed    Event = "episode_failed"
	EventBatchCompleted   Event = "batch_completed"
	EventError            Event = "error"
	EventTest             Event = "test"
)

// Payload carries event fields by name.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		enabled: map[Event]bool{
			EventEpisodeCompleted: cfg.Notifications.Episodes,
			EventEpisodeFailed:    cfg.Notifications.Episodes || cfg.Notifications.Errors,
			EventBatchCompleted:   cfg.Notifications.Batches,
			EventError:            cfg.Notifications.Errors,
			EventTest:             true,
		},
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	enabled  map[Event]bool
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if n == nil || !n.enabled[event] {
		return nil
	}
	msg, ok := format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventEpisodeCompleted:
		title := payloadString(payload, "title")
		if title == "" {
			title = payloadString(payload, "episodeID")
		}
		body := fmt.Sprintf("✅ Episode ready: %s", title)
		if out := payloadString(payload, "outputPath"); out != "" {
			body = fmt.Sprintf("%s\nFile: %s", body, out)
		}
		return message{
			title:    "Reelsmith - Episode Ready",
			body:     body,
			tags:     []string{"reelsmith", "episode", "completed"},
			priority: "high",
		}, true
	case EventEpisodeFailed:
		body := fmt.Sprintf("❌ Episode %s failed during %s", payloadString(payload, "episodeID"), payloadString(payload, "phase"))
		if reason := payloadString(payload, "error"); reason != "" {
			body = fmt.Sprintf("%s: %s", body, reason)
		}
		if resumable, _ := payload["resumable"].(bool); resumable {
			body += "\nResumable: run assemble again"
		}
		return message{
			title:    "Reelsmith - Episode Failed",
			body:     body,
			tags:     []string{"reelsmith", "episode", "failed"},
			priority: "high",
		}, true
	case EventBatchCompleted:
		completed := payloadInt(payload, "completed")
		failed := payloadInt(payload, "failed")
		total := payloadInt(payload, "total")
		title := "Reelsmith - Batch Complete"
		body := fmt.Sprintf("🎞️ Batch %s: %d/%d clips generated", payloadString(payload, "batchID"), completed, total)
		if failed > 0 {
			title = "Reelsmith - Batch Complete (with errors)"
			body = fmt.Sprintf("%s, %d failed", body, failed)
		}
		return message{title: title, body: body, tags: []string{"reelsmith", "batch", "completed"}}, true
	case EventError:
		var builder strings.Builder
		builder.WriteString("❌ Error")
		if label := payloadString(payload, "context"); label != "" {
			builder.WriteString(" with ")
			builder.WriteString(label)
		}
		builder.WriteString(": ")
		if reason := payloadString(payload, "error"); reason != "" {
			builder.WriteString(reason)
		} else {
			builder.WriteString("unknown")
		}
		return message{
			title:    "Reelsmith - Error",
			body:     builder.String(),
			tags:     []string{"reelsmith", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Reelsmith - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"reelsmith", "test"},
			priority: "low",
		}, true
	}
	return message{}, false
}

func payloadString(payload Payload, key string) string {
	switch v := payload[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	case error:
		return strings.TrimSpace(v.Error())
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func payloadInt(payload Payload, key string) int {
	switch v := payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }
