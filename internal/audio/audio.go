// Package audio talks to the dialogue and score synthesis service.
//
// Tracks carry word and phoneme timings so the episode coordinator can line
// clips up with speech.
package audio

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"reelsmith/internal/config"
	"reelsmith/internal/logging"
	"reelsmith/internal/provider"
	"reelsmith/internal/retry"
	"reelsmith/internal/services"
)

// WordTiming places one spoken word on the track, in seconds.
type WordTiming struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// PhonemeTiming places one phoneme on the track, in seconds.
type PhonemeTiming struct {
	Phoneme string  `json:"phoneme"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

// Track is a synthesized audio asset.
type Track struct {
	URL             string          `json:"audio_url"`
	DurationSeconds float64         `json:"duration_seconds"`
	Words           []WordTiming    `json:"words,omitempty"`
	Phonemes        []PhonemeTiming `json:"phonemes,omitempty"`
}

// SpeechEnd returns when the last word finishes, or the track duration when
// no timings were returned.
func (t Track) SpeechEnd() float64 {
	end := 0.0
	for _, w := range t.Words {
		if w.End > end {
			end = w.End
		}
	}
	if end == 0 {
		return t.DurationSeconds
	}
	return end
}

// DialogueRequest asks for one line of speech.
type DialogueRequest struct {
	ShotID    string   `json:"shot_id"`
	Character string   `json:"character,omitempty"`
	Voice     string   `json:"voice"`
	Text      string   `json:"text"`
	Mood      []string `json:"mood,omitempty"`
	LipSync   bool     `json:"lip_sync,omitempty"`
}

// ScoreRequest asks for background music covering a scene.
type ScoreRequest struct {
	SceneID         string   `json:"scene_id"`
	Mood            []string `json:"mood,omitempty"`
	Intensity       float64  `json:"intensity"`
	DurationSeconds float64  `json:"duration_seconds"`
}

// Synthesizer produces dialogue and score tracks.
type Synthesizer interface {
	Dialogue(ctx context.Context, req DialogueRequest) (Track, error)
	Score(ctx context.Context, req ScoreRequest) (Track, error)
}

// Client is the HTTP Synthesizer.
type Client struct {
	http   provider.HTTPClient
	retry  retry.Options
	voice  string
	logger *slog.Logger
}

// NewClient builds a client for the configured audio service.
func NewClient(cfg config.Audio, opts retry.Options, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		return nil, services.Wrap(services.ErrConfiguration, "audio", "new client", "audio.base_url is not set", nil)
	}
	if httpClient == nil {
		timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		http: provider.HTTPClient{
			ProviderID: "audio",
			BaseURL:    base,
			Client:     httpClient,
			Authorize:  provider.BearerAuth(cfg.APIKey),
		},
		retry:  opts,
		voice:  cfg.Voice,
		logger: logging.NewComponentLogger(logger, "audio"),
	}, nil
}

// Dialogue synthesizes one line. An empty voice uses the configured default.
func (c *Client) Dialogue(ctx context.Context, req DialogueRequest) (Track, error) {
	if strings.TrimSpace(req.Text) == "" {
		return Track{}, services.New(services.KindValidation, "audio dialogue", "dialogue text is empty", nil)
	}
	if req.Voice == "" {
		req.Voice = c.voice
	}
	return c.synthesize(ctx, "/v1/dialogue", req, logging.String("shot_id", req.ShotID))
}

// Score synthesizes music for a scene.
func (c *Client) Score(ctx context.Context, req ScoreRequest) (Track, error) {
	if req.DurationSeconds <= 0 {
		return Track{}, services.New(services.KindValidation, "audio score", "score duration must be positive", nil)
	}
	return c.synthesize(ctx, "/v1/score", req, logging.String("scene_id", req.SceneID))
}

func (c *Client) synthesize(ctx context.Context, path string, in any, attr slog.Attr) (Track, error) {
	logger := logging.WithContext(ctx, c.logger).With(attr)
	opts := c.retry
	opts.OnRetry = func(attempt int, kind services.Kind, delay time.Duration, err error) {
		logger.Warn("audio request retrying",
			logging.Int("attempt", attempt),
			logging.String(logging.FieldErrorKind, string(kind)),
			logging.Duration("delay", delay),
			logging.Error(err),
			logging.String(logging.FieldEventType, "audio_retry"),
		)
	}
	track, err := retry.Do(ctx, opts, func(ctx context.Context, _ int) (Track, error) {
		var out Track
		err := c.http.Do(ctx, http.MethodPost, path, in, &out)
		return out, err
	})
	if err != nil {
		return Track{}, err
	}
	if strings.TrimSpace(track.URL) == "" {
		return Track{}, services.New(services.KindFatal, "audio "+path, "service returned no audio url", nil)
	}
	logger.Debug("audio synthesized",
		logging.Float64("duration_seconds", track.DurationSeconds),
		logging.Int("words", len(track.Words)),
	)
	return track, nil
}
