package generation

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"reelsmith/internal/config"
	"reelsmith/internal/services"
)

// Tier is the coarse price and quality band of a provider.
type Tier string

const (
	TierBudget   Tier = "budget"
	TierStandard Tier = "standard"
	TierPremium  Tier = "premium"
)

// PromptStyle selects the prompt convention a provider understands.
type PromptStyle string

const (
	PromptNatural  PromptStyle = "natural"
	PromptTagged   PromptStyle = "tagged"
	PromptWeighted PromptStyle = "weighted"
)

// Capabilities are optional provider features a request may depend on.
type Capabilities struct {
	Audio         bool `json:"audio,omitempty"`
	LipSync       bool `json:"lip_sync,omitempty"`
	MotionBrush   bool `json:"motion_brush,omitempty"`
	Interpolation bool `json:"interpolation,omitempty"`
}

// Missing lists the capabilities in need that c lacks.
func (c Capabilities) Missing(need Capabilities) []string {
	var missing []string
	if need.Audio && !c.Audio {
		missing = append(missing, "audio")
	}
	if need.LipSync && !c.LipSync {
		missing = append(missing, "lip_sync")
	}
	if need.MotionBrush && !c.MotionBrush {
		missing = append(missing, "motion_brush")
	}
	if need.Interpolation && !c.Interpolation {
		missing = append(missing, "interpolation")
	}
	return missing
}

// Profile is the static description of a provider loaded at process start.
type Profile struct {
	ID                   string       `json:"id"`
	Kind                 string       `json:"kind"`
	Tier                 Tier         `json:"tier"`
	MaxDurationSeconds   float64      `json:"max_duration_seconds"`
	SupportedResolutions []string     `json:"supported_resolutions"`
	MaxConcurrentJobs    int          `json:"max_concurrent_jobs"`
	CostPerSecond        float64      `json:"cost_per_second"`
	Capabilities         Capabilities `json:"capabilities"`
	MaxPromptLength      int          `json:"max_prompt_length"`
	PromptStyle          PromptStyle  `json:"prompt_style"`
	RequestsPerSecond    float64      `json:"requests_per_second"`
}

// ProfileFromConfig converts a [[providers]] entry.
func ProfileFromConfig(p config.Provider) Profile {
	return Profile{
		ID:                   p.ID,
		Kind:                 p.Kind,
		Tier:                 Tier(p.Tier),
		MaxDurationSeconds:   p.MaxDurationSeconds,
		SupportedResolutions: append([]string(nil), p.SupportedResolutions...),
		MaxConcurrentJobs:    p.MaxConcurrentJobs,
		CostPerSecond:        p.CostPerSecond,
		Capabilities: Capabilities{
			Audio:         p.Audio,
			LipSync:       p.LipSync,
			MotionBrush:   p.MotionBrush,
			Interpolation: p.Interpolation,
		},
		MaxPromptLength:   p.MaxPromptLength,
		PromptStyle:       PromptStyle(p.PromptStyle),
		RequestsPerSecond: p.RequestsPerSecond,
	}
}

// Validate enforces the profile invariant: numeric fields are non-negative and
// at least one job may run concurrently.
func (p Profile) Validate() error {
	if strings.TrimSpace(p.ID) == "" {
		return services.Wrap(services.ErrConfiguration, "provider profile", "validate", "id is required", nil)
	}
	if p.MaxDurationSeconds < 0 || p.CostPerSecond < 0 || p.MaxPromptLength < 0 || p.RequestsPerSecond < 0 {
		return services.Wrap(services.ErrConfiguration, "provider profile", "validate", fmt.Sprintf("%s: numeric fields must be >= 0", p.ID), nil)
	}
	if p.MaxConcurrentJobs < 1 {
		return services.Wrap(services.ErrConfiguration, "provider profile", "validate", fmt.Sprintf("%s: max_concurrent_jobs must be >= 1", p.ID), nil)
	}
	return nil
}

// Supports returns a capability error when req exceeds what the provider can do.
func (p Profile) Supports(req Request) error {
	if p.MaxDurationSeconds > 0 && req.TargetDurationSeconds > p.MaxDurationSeconds {
		return &services.Error{
			Kind:     services.KindCapability,
			Provider: p.ID,
			Op:       "select provider",
			Message:  fmt.Sprintf("duration %.1fs exceeds max %.1fs", req.TargetDurationSeconds, p.MaxDurationSeconds),
		}
	}
	if res := strings.ToLower(strings.TrimSpace(req.Resolution)); res != "" && !slices.Contains(p.SupportedResolutions, res) {
		return &services.Error{
			Kind:     services.KindCapability,
			Provider: p.ID,
			Op:       "select provider",
			Message:  fmt.Sprintf("resolution %s not supported", res),
		}
	}
	if missing := p.Capabilities.Missing(req.Requires); len(missing) > 0 {
		return &services.Error{
			Kind:     services.KindCapability,
			Provider: p.ID,
			Op:       "select provider",
			Message:  "missing capabilities: " + strings.Join(missing, ", "),
		}
	}
	return nil
}

// EstimateCost returns the expected charge for req, rounded to cents.
func (p Profile) EstimateCost(req Request) float64 {
	return math.Round(p.CostPerSecond*req.TargetDurationSeconds*100) / 100
}

// DefaultResolution returns the resolution used when a request names none.
func (p Profile) DefaultResolution() string {
	if len(p.SupportedResolutions) == 0 {
		return ""
	}
	return p.SupportedResolutions[0]
}
