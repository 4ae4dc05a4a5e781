package episode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"reelsmith/internal/generation"
	"reelsmith/internal/services"
	"reelsmith/internal/timeline"
)

// Dialogue is a spoken line attached to a shot.
type Dialogue struct {
	Character string `json:"character,omitempty"`
	Voice     string `json:"voice,omitempty"`
	Text      string `json:"text"`
	LipSync   bool   `json:"lip_sync,omitempty"`
}

// Shot is one narrative unit with a resolved still image and, once
// generated, a video clip.
type Shot struct {
	ID                string                  `json:"id"`
	SceneID           string                  `json:"scene_id,omitempty"`
	Order             int                     `json:"order"`
	StillImageURL     string                  `json:"still_image_url"`
	VideoURL          string                  `json:"video_url,omitempty"`
	DurationSeconds   float64                 `json:"duration_seconds"`
	Subject           string                  `json:"subject,omitempty"`
	MotionDescription string                  `json:"motion_description,omitempty"`
	CameraInstruction string                  `json:"camera_instruction,omitempty"`
	NegativePrompt    string                  `json:"negative_prompt,omitempty"`
	Mood              string                  `json:"mood,omitempty"`
	Style             string                  `json:"style,omitempty"`
	Resolution        string                  `json:"resolution,omitempty"`
	ProviderHint      string                  `json:"provider_hint,omitempty"`
	Requires          generation.Capabilities `json:"requires,omitzero"`
	Dialogue          *Dialogue               `json:"dialogue,omitempty"`
	TransitionIn      *timeline.Transition    `json:"transition_in,omitempty"`
	Effects           []timeline.Effect       `json:"effects,omitempty"`
}

// Request converts the shot into a generation request. Lip-synced dialogue
// requires a provider that supports it.
func (s Shot) Request() generation.Request {
	req := generation.Request{
		ShotID:                s.ID,
		SourceImageRef:        s.StillImageURL,
		TargetDurationSeconds: s.DurationSeconds,
		Subject:               s.Subject,
		MotionDescription:     s.MotionDescription,
		CameraInstruction:     s.CameraInstruction,
		NegativePrompt:        s.NegativePrompt,
		Mood:                  s.Mood,
		Style:                 s.Style,
		Resolution:            s.Resolution,
		Requires:              s.Requires,
		ProviderHint:          s.ProviderHint,
	}
	if s.Dialogue != nil && s.Dialogue.LipSync {
		req.Requires.LipSync = true
	}
	return req
}

// Scene groups shots that share a mood and, above the threshold, a score.
type Scene struct {
	ID             string   `json:"id"`
	Mood           []string `json:"mood,omitempty"`
	ScoreIntensity float64  `json:"score_intensity"`
}

// Episode is the upstream document handed to the coordinator.
type Episode struct {
	ID         string            `json:"id"`
	Title      string            `json:"title,omitempty"`
	ColorGrade string            `json:"color_grade,omitempty"`
	Effects    []timeline.Effect `json:"effects,omitempty"`
	Shots      []Shot            `json:"shots"`
	Scenes     []Scene           `json:"scenes,omitempty"`
}

// Validate rejects documents the pipeline cannot assemble.
func (e *Episode) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return invalid("episode id is required")
	}
	if len(e.Shots) == 0 {
		return invalid(fmt.Sprintf("episode %s has no shots", e.ID))
	}
	seen := make(map[string]struct{}, len(e.Shots))
	for i, s := range e.Shots {
		if strings.TrimSpace(s.ID) == "" {
			return invalid(fmt.Sprintf("shot %d has no id", i))
		}
		if _, dup := seen[s.ID]; dup {
			return invalid(fmt.Sprintf("duplicate shot id %q", s.ID))
		}
		seen[s.ID] = struct{}{}
		if s.StillImageURL == "" && s.VideoURL == "" {
			return invalid(fmt.Sprintf("shot %s has neither a still image nor a video", s.ID))
		}
		if s.DurationSeconds <= 0 {
			return invalid(fmt.Sprintf("shot %s duration must be positive", s.ID))
		}
		if s.TransitionIn != nil && !s.TransitionIn.Kind.Valid() {
			return invalid(fmt.Sprintf("shot %s has unknown transition %q", s.ID, s.TransitionIn.Kind))
		}
		if s.Dialogue != nil && strings.TrimSpace(s.Dialogue.Text) == "" {
			return invalid(fmt.Sprintf("shot %s dialogue has no text", s.ID))
		}
	}
	return nil
}

// Ordered returns the shots in narrative order. Ties keep document order.
func (e *Episode) Ordered() []Shot {
	shots := append([]Shot(nil), e.Shots...)
	sort.SliceStable(shots, func(i, j int) bool { return shots[i].Order < shots[j].Order })
	return shots
}

// Scene returns the scene with the given id.
func (e *Episode) Scene(id string) (Scene, bool) {
	for _, s := range e.Scenes {
		if s.ID == id {
			return s, true
		}
	}
	return Scene{}, false
}

// ShotSource supplies episode documents from the upstream image pipeline.
type ShotSource interface {
	Episode(ctx context.Context, id string) (*Episode, error)
}

// FileSource reads <Dir>/<id>.json.
type FileSource struct {
	Dir string
}

// Episode loads and validates one document.
func (f FileSource) Episode(ctx context.Context, id string) (*Episode, error) {
	if err := ctx.Err(); err != nil {
		return nil, services.New(services.KindCancelled, "episode fetch", "", err)
	}
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, invalid(fmt.Sprintf("invalid episode id %q", id))
	}
	path := filepath.Join(f.Dir, id+".json")
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, services.New(services.KindValidation, "episode fetch", "episode document not found: "+path, err)
	}
	if err != nil {
		return nil, services.New(services.KindTransient, "episode fetch", "read "+path, err)
	}
	var ep Episode
	if err := json.Unmarshal(data, &ep); err != nil {
		return nil, services.New(services.KindValidation, "episode fetch", "parse "+path, err)
	}
	if ep.ID == "" {
		ep.ID = id
	}
	if ep.ID != id {
		return nil, invalid(fmt.Sprintf("document %s declares episode %q", path, ep.ID))
	}
	if err := ep.Validate(); err != nil {
		return nil, err
	}
	return &ep, nil
}

func invalid(msg string) error {
	return services.New(services.KindValidation, "episode", msg, nil)
}
