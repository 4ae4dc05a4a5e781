package config

import (
	"fmt"
	"os"
	"strings"
	"unicode"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeProviders()
	c.normalizeBatch()
	c.normalizeRetry()
	c.normalizeAudio()
	c.normalizeComposition()
	c.normalizeNotifications()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	fields := []struct {
		key   string
		value *string
	}{
		{"paths.work_dir", &c.Paths.WorkDir},
		{"paths.output_dir", &c.Paths.OutputDir},
		{"paths.episodes_dir", &c.Paths.EpisodesDir},
		{"paths.state_dir", &c.Paths.StateDir},
		{"paths.log_dir", &c.Paths.LogDir},
	}
	for _, field := range fields {
		expanded, err := expandPath(strings.TrimSpace(*field.value))
		if err != nil {
			return fmt.Errorf("%s: %w", field.key, err)
		}
		*field.value = expanded
	}
	c.Paths.APIBind = strings.TrimSpace(c.Paths.APIBind)
	if c.Paths.APIBind == "" {
		c.Paths.APIBind = defaultAPIBind
	}
	c.Paths.APIToken = strings.TrimSpace(c.Paths.APIToken)
	if c.Paths.APIToken == "" {
		if value, ok := os.LookupEnv("REELSMITH_API_TOKEN"); ok {
			c.Paths.APIToken = strings.TrimSpace(value)
		}
	}
	return nil
}

func (c *Config) normalizeProviders() {
	for i := range c.Providers {
		p := &c.Providers[i]
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
		if p.Kind == "" {
			p.Kind = p.ID
		}
		p.Endpoint = strings.TrimRight(strings.TrimSpace(p.Endpoint), "/")
		p.APIKey = strings.TrimSpace(p.APIKey)
		if p.APIKey == "" {
			if value, ok := os.LookupEnv(ProviderKeyEnv(p.ID)); ok {
				p.APIKey = strings.TrimSpace(value)
			}
		}
		p.Model = strings.TrimSpace(p.Model)
		p.Tier = strings.ToLower(strings.TrimSpace(p.Tier))
		if p.Tier == "" {
			p.Tier = defaultProviderTier
		}
		p.PromptStyle = strings.ToLower(strings.TrimSpace(p.PromptStyle))
		if p.PromptStyle == "" {
			p.PromptStyle = defaultPromptStyle
		}
		if p.MaxPromptLength == 0 {
			p.MaxPromptLength = defaultMaxPromptLength
		}
		resolutions := make([]string, 0, len(p.SupportedResolutions))
		seen := make(map[string]struct{}, len(p.SupportedResolutions))
		for _, res := range p.SupportedResolutions {
			normalized := strings.ToLower(strings.TrimSpace(res))
			if normalized == "" {
				continue
			}
			if _, ok := seen[normalized]; ok {
				continue
			}
			seen[normalized] = struct{}{}
			resolutions = append(resolutions, normalized)
		}
		p.SupportedResolutions = resolutions
	}
}

// ProviderKeyEnv returns the environment variable consulted for a provider's
// API key when the config file leaves it blank.
func ProviderKeyEnv(id string) string {
	var b strings.Builder
	b.WriteString("REELSMITH_")
	for _, r := range strings.ToUpper(id) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	b.WriteString("_API_KEY")
	return b.String()
}

func (c *Config) normalizeBatch() {
	if c.Batch.GlobalMaxInFlight == 0 {
		c.Batch.GlobalMaxInFlight = defaultGlobalMaxInFlight
	}
	if c.Batch.PollIntervalSeconds == 0 {
		c.Batch.PollIntervalSeconds = defaultPollIntervalSeconds
	}
	if c.Batch.PollBudgetFactor == 0 {
		c.Batch.PollBudgetFactor = defaultPollBudgetFactor
	}
}

func (c *Config) normalizeRetry() {
	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = defaultRetryMaxAttempts
	}
	if c.Retry.BaseDelayMillis == 0 {
		c.Retry.BaseDelayMillis = defaultRetryBaseDelayMillis
	}
	if c.Retry.MaxDelaySeconds == 0 {
		c.Retry.MaxDelaySeconds = defaultRetryMaxDelaySeconds
	}
}

func (c *Config) normalizeAudio() {
	c.Audio.BaseURL = strings.TrimRight(strings.TrimSpace(c.Audio.BaseURL), "/")
	c.Audio.APIKey = strings.TrimSpace(c.Audio.APIKey)
	if c.Audio.APIKey == "" {
		if value, ok := os.LookupEnv("REELSMITH_AUDIO_API_KEY"); ok {
			c.Audio.APIKey = strings.TrimSpace(value)
		}
	}
	c.Audio.Voice = strings.TrimSpace(c.Audio.Voice)
	if c.Audio.TimeoutSeconds <= 0 {
		c.Audio.TimeoutSeconds = defaultAudioTimeoutSeconds
	}
}

func (c *Config) normalizeComposition() {
	c.Composition.FFmpegBinary = strings.TrimSpace(c.Composition.FFmpegBinary)
	c.Composition.FFprobeBinary = strings.TrimSpace(c.Composition.FFprobeBinary)
	c.Composition.DefaultTransition = strings.ToLower(strings.TrimSpace(c.Composition.DefaultTransition))
	if c.Composition.DefaultTransition == "" {
		c.Composition.DefaultTransition = defaultTransition
	}
	c.Composition.ColorGrade = strings.ToLower(strings.TrimSpace(c.Composition.ColorGrade))
	if c.Composition.ColorGrade == "" {
		c.Composition.ColorGrade = defaultColorGrade
	}
	c.Composition.Format = strings.ToLower(strings.TrimSpace(c.Composition.Format))
	if c.Composition.Format == "" {
		c.Composition.Format = defaultFormat
	}
	if c.Composition.FPS == 0 {
		c.Composition.FPS = defaultFPS
	}
	if strings.TrimSpace(c.Composition.VideoBitrate) == "" {
		c.Composition.VideoBitrate = defaultVideoBitrate
	}
	if strings.TrimSpace(c.Composition.AudioBitrate) == "" {
		c.Composition.AudioBitrate = defaultAudioBitrate
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if c.Notifications.RequestTimeout <= 0 {
		c.Notifications.RequestTimeout = defaultNotifyRequestTimeout
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
