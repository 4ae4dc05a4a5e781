package generation

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"reelsmith/internal/services"
)

// Request describes one shot to animate. It is a value type and is never
// mutated after submission.
type Request struct {
	ShotID                string       `json:"shot_id"`
	SourceImageRef        string       `json:"source_image_ref"`
	TargetDurationSeconds float64      `json:"target_duration_seconds"`
	Subject               string       `json:"subject,omitempty"`
	MotionDescription     string       `json:"motion_description"`
	CameraInstruction     string       `json:"camera_instruction,omitempty"`
	NegativePrompt        string       `json:"negative_prompt,omitempty"`
	Mood                  string       `json:"mood,omitempty"`
	Style                 string       `json:"style,omitempty"`
	Resolution            string       `json:"resolution,omitempty"`
	Requires              Capabilities `json:"requires,omitzero"`
	ProviderHint          string       `json:"provider_hint,omitempty"`
}

// Key returns the idempotence key for the request. Two requests with the same
// content share a key regardless of map or whitespace differences.
func (r Request) Key() string {
	normalized := r
	normalized.ShotID = strings.TrimSpace(r.ShotID)
	normalized.SourceImageRef = strings.TrimSpace(r.SourceImageRef)
	normalized.Subject = strings.TrimSpace(r.Subject)
	normalized.MotionDescription = strings.TrimSpace(r.MotionDescription)
	normalized.CameraInstruction = strings.TrimSpace(r.CameraInstruction)
	normalized.NegativePrompt = strings.TrimSpace(r.NegativePrompt)
	normalized.Mood = strings.TrimSpace(r.Mood)
	normalized.Style = strings.TrimSpace(r.Style)
	normalized.Resolution = strings.ToLower(strings.TrimSpace(r.Resolution))
	normalized.ProviderHint = strings.ToLower(strings.TrimSpace(r.ProviderHint))
	payload, _ := json.Marshal(normalized)
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:16])
}

// Validate reports malformed requests before any provider is contacted.
func (r Request) Validate() error {
	switch {
	case strings.TrimSpace(r.ShotID) == "":
		return services.Wrap(services.ErrValidation, "generation", "validate request", "shot_id is required", nil)
	case strings.TrimSpace(r.SourceImageRef) == "":
		return services.Wrap(services.ErrValidation, "generation", "validate request", fmt.Sprintf("shot %s: source_image_ref is required", r.ShotID), nil)
	case r.TargetDurationSeconds <= 0:
		return services.Wrap(services.ErrValidation, "generation", "validate request", fmt.Sprintf("shot %s: target_duration_seconds must be positive", r.ShotID), nil)
	case strings.TrimSpace(r.MotionDescription) == "" && strings.TrimSpace(r.Subject) == "":
		return services.Wrap(services.ErrValidation, "generation", "validate request", fmt.Sprintf("shot %s: motion_description or subject is required", r.ShotID), nil)
	}
	if r.Resolution != "" {
		if _, _, err := ParseResolution(r.Resolution); err != nil {
			return services.Wrap(services.ErrValidation, "generation", "validate request", fmt.Sprintf("shot %s", r.ShotID), err)
		}
	}
	return nil
}

// ParseResolution splits a WIDTHxHEIGHT string.
func ParseResolution(value string) (int, int, error) {
	var w, h int
	if _, err := fmt.Sscanf(strings.ToLower(strings.TrimSpace(value)), "%dx%d", &w, &h); err != nil {
		return 0, 0, fmt.Errorf("resolution %q: expected WIDTHxHEIGHT", value)
	}
	if w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("resolution %q: dimensions must be positive", value)
	}
	return w, h, nil
}
