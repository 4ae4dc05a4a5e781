package config

const (
	defaultConfigPath               = "~/.config/reelsmith/config.toml"
	defaultWorkDir                  = "~/.local/share/reelsmith/work"
	defaultOutputDir                = "~/.local/share/reelsmith/output"
	defaultEpisodesDir              = "~/.local/share/reelsmith/episodes"
	defaultStateDir                 = "~/.local/share/reelsmith/state"
	defaultLogDir                   = "~/.local/share/reelsmith/logs"
	defaultAPIBind                  = "127.0.0.1:7490"
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultGlobalMaxInFlight        = 8
	defaultPollIntervalSeconds      = 5
	defaultPollBudgetFactor         = 30
	defaultPollTimeoutMarginSeconds = 120
	defaultRetryMaxAttempts         = 4
	defaultRetryBaseDelayMillis     = 500
	defaultRetryMaxDelaySeconds     = 30
	defaultTimeoutRetries           = 1
	defaultAudioTimeoutSeconds      = 120
	defaultScoreThreshold           = 0.5
	defaultFFmpegBinary             = "ffmpeg"
	defaultFFprobeBinary            = "ffprobe"
	defaultTransition               = "crossfade"
	defaultTransitionSeconds        = 0.5
	defaultColorGrade               = "neutral"
	defaultWidth                    = 1920
	defaultHeight                   = 1080
	defaultFPS                      = 24
	defaultVideoBitrate             = "8M"
	defaultAudioBitrate             = "192k"
	defaultFormat                   = "mp4"
	defaultNotifyRequestTimeout     = 10
	defaultPromptStyle              = "natural"
	defaultMaxPromptLength          = 512
	defaultProviderTier             = "standard"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			WorkDir:     defaultWorkDir,
			OutputDir:   defaultOutputDir,
			EpisodesDir: defaultEpisodesDir,
			StateDir:    defaultStateDir,
			LogDir:      defaultLogDir,
			APIBind:     defaultAPIBind,
		},
		Batch: Batch{
			GlobalMaxInFlight:        defaultGlobalMaxInFlight,
			PollIntervalSeconds:      defaultPollIntervalSeconds,
			PollBudgetFactor:         defaultPollBudgetFactor,
			PollTimeoutMarginSeconds: defaultPollTimeoutMarginSeconds,
			Fallback:                 true,
		},
		Retry: Retry{
			MaxAttempts:     defaultRetryMaxAttempts,
			BaseDelayMillis: defaultRetryBaseDelayMillis,
			MaxDelaySeconds: defaultRetryMaxDelaySeconds,
			Jitter:          true,
			TimeoutRetries:  defaultTimeoutRetries,
		},
		Audio: Audio{
			TimeoutSeconds: defaultAudioTimeoutSeconds,
			ScoreThreshold: defaultScoreThreshold,
		},
		Composition: Composition{
			FFmpegBinary:      defaultFFmpegBinary,
			FFprobeBinary:     defaultFFprobeBinary,
			DefaultTransition: defaultTransition,
			TransitionSeconds: defaultTransitionSeconds,
			ColorGrade:        defaultColorGrade,
			Width:             defaultWidth,
			Height:            defaultHeight,
			FPS:               defaultFPS,
			VideoBitrate:      defaultVideoBitrate,
			AudioBitrate:      defaultAudioBitrate,
			Format:            defaultFormat,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Episodes:       true,
			Batches:        true,
			Errors:         true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
