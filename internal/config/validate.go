package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	validTiers        = map[string]struct{}{"budget": {}, "standard": {}, "premium": {}}
	validPromptStyles = map[string]struct{}{"natural": {}, "tagged": {}, "weighted": {}}
	validProviderKind = map[string]struct{}{"runway": {}, "kling": {}, "luma": {}}
	validTransitions  = map[string]struct{}{"cut": {}, "crossfade": {}, "wipe": {}, "dip": {}}
	validFormats      = map[string]struct{}{"mp4": {}, "webm": {}, "mov": {}, "av1": {}}
	validGrades       = map[string]struct{}{"neutral": {}, "warm": {}, "cool": {}, "noir": {}, "vivid": {}, "cinematic": {}}
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateProviders(); err != nil {
		return err
	}
	if err := c.validateBatch(); err != nil {
		return err
	}
	if err := c.validateRetry(); err != nil {
		return err
	}
	if err := c.validateAudio(); err != nil {
		return err
	}
	if err := c.validateComposition(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.WorkDir) == "" {
		return errors.New("paths.work_dir must be set")
	}
	if strings.TrimSpace(c.Paths.OutputDir) == "" {
		return errors.New("paths.output_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateProviders() error {
	seen := make(map[string]struct{}, len(c.Providers))
	for i, p := range c.Providers {
		key := fmt.Sprintf("providers[%d]", i)
		if p.ID == "" {
			return fmt.Errorf("%s.id must be set", key)
		}
		key = fmt.Sprintf("providers[%s]", p.ID)
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("%s: duplicate provider id", key)
		}
		seen[p.ID] = struct{}{}
		if _, ok := validProviderKind[p.Kind]; !ok {
			return fmt.Errorf("%s.kind %q is not supported (runway, kling, luma)", key, p.Kind)
		}
		if _, ok := validTiers[p.Tier]; !ok {
			return fmt.Errorf("%s.tier %q must be budget, standard, or premium", key, p.Tier)
		}
		if _, ok := validPromptStyles[p.PromptStyle]; !ok {
			return fmt.Errorf("%s.prompt_style %q must be natural, tagged, or weighted", key, p.PromptStyle)
		}
		if p.MaxDurationSeconds < 0 || p.CostPerSecond < 0 || p.MaxPromptLength < 0 || p.RequestsPerSecond < 0 {
			return fmt.Errorf("%s: numeric fields must be >= 0", key)
		}
		if p.MaxDurationSeconds == 0 {
			return fmt.Errorf("%s.max_duration_seconds must be positive", key)
		}
		if p.MaxConcurrentJobs < 1 {
			return fmt.Errorf("%s.max_concurrent_jobs must be >= 1", key)
		}
		if len(p.SupportedResolutions) == 0 {
			return fmt.Errorf("%s.supported_resolutions must list at least one resolution", key)
		}
	}
	return nil
}

func (c *Config) validateBatch() error {
	if c.Batch.GlobalMaxInFlight < 1 {
		return errors.New("batch.global_max_in_flight must be >= 1")
	}
	if c.Batch.PollIntervalSeconds <= 0 {
		return errors.New("batch.poll_interval_seconds must be positive")
	}
	if c.Batch.PollBudgetFactor <= 0 {
		return errors.New("batch.poll_budget_factor must be positive")
	}
	if c.Batch.PollTimeoutMarginSeconds < 0 {
		return errors.New("batch.poll_timeout_margin_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateRetry() error {
	if err := ensurePositiveMap(map[string]int{
		"retry.max_attempts":      c.Retry.MaxAttempts,
		"retry.base_delay_ms":     c.Retry.BaseDelayMillis,
		"retry.max_delay_seconds": c.Retry.MaxDelaySeconds,
	}); err != nil {
		return err
	}
	if c.Retry.TimeoutRetries < 0 {
		return errors.New("retry.timeout_retries must be >= 0")
	}
	return nil
}

func (c *Config) validateAudio() error {
	if c.Audio.ScoreThreshold < 0 || c.Audio.ScoreThreshold > 1 {
		return errors.New("audio.score_threshold must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateComposition() error {
	comp := c.Composition
	if _, ok := validTransitions[comp.DefaultTransition]; !ok {
		return fmt.Errorf("composition.default_transition %q must be cut, crossfade, wipe, or dip", comp.DefaultTransition)
	}
	if _, ok := validFormats[comp.Format]; !ok {
		return fmt.Errorf("composition.format %q must be mp4, webm, mov, or av1", comp.Format)
	}
	if _, ok := validGrades[comp.ColorGrade]; !ok {
		return fmt.Errorf("composition.color_grade %q is not a known preset", comp.ColorGrade)
	}
	if comp.TransitionSeconds < 0 {
		return errors.New("composition.transition_seconds must be >= 0")
	}
	if err := ensurePositiveMap(map[string]int{
		"composition.width":  comp.Width,
		"composition.height": comp.Height,
		"composition.fps":    comp.FPS,
	}); err != nil {
		return err
	}
	if comp.Width%2 != 0 || comp.Height%2 != 0 {
		return errors.New("composition.width and composition.height must be even")
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
