package notifications

import (
	"context"
	"log/slog"
	"time"

	"reelsmith/internal/batch"
	"reelsmith/internal/episode"
	"reelsmith/internal/logging"
)

const publishTimeout = 30 * time.Second

// EpisodeSubscriber returns a coordinator progress subscriber that publishes
// terminal episode events. Delivery happens off the caller's goroutine so a
// slow ntfy server never stalls assembly.
func EpisodeSubscriber(svc Service, logger *slog.Logger) func(episode.ProgressEvent) {
	logger = logging.NewComponentLogger(logger, "notifications")
	return func(ev episode.ProgressEvent) {
		var (
			event   Event
			payload Payload
		)
		switch ev.Status {
		case episode.StatusCompleted:
			event = EventEpisodeCompleted
			payload = Payload{"episodeID": ev.EpisodeID, "outputPath": ev.OutputPath}
		case episode.StatusFailed:
			event = EventEpisodeFailed
			payload = Payload{
				"episodeID": ev.EpisodeID,
				"phase":     string(ev.Phase),
				"error":     ev.Message,
				"resumable": ev.Resumable,
			}
		default:
			return
		}
		go publish(svc, logger, event, payload, ev.EpisodeID)
	}
}

// BatchFinished returns a batch.Options.OnFinish hook.
func BatchFinished(svc Service, logger *slog.Logger) func(batch.Snapshot) {
	logger = logging.NewComponentLogger(logger, "notifications")
	return func(snap batch.Snapshot) {
		payload := Payload{
			"batchID":   snap.ID,
			"completed": snap.Progress.Completed,
			"failed":    snap.Progress.Failed,
			"total":     snap.Progress.Total,
		}
		go publish(svc, logger, EventBatchCompleted, payload, snap.EpisodeID)
	}
}

func publish(svc Service, logger *slog.Logger, event Event, payload Payload, episodeID string) {
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := svc.Publish(ctx, event, payload); err != nil {
		logger.Warn("notification not delivered",
			logging.String(logging.FieldEventType, string(event)),
			logging.String(logging.FieldEpisodeID, episodeID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "operator is not alerted"),
		)
	}
}
