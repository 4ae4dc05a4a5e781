package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	WorkDir     string `toml:"work_dir"`
	OutputDir   string `toml:"output_dir"`
	EpisodesDir string `toml:"episodes_dir"`
	StateDir    string `toml:"state_dir"`
	LogDir      string `toml:"log_dir"`
	APIBind     string `toml:"api_bind"`
	APIToken    string `toml:"api_token"`
}

// Provider describes one configured video generation backend.
type Provider struct {
	ID                   string   `toml:"id"`
	Kind                 string   `toml:"kind"`
	Endpoint             string   `toml:"endpoint"`
	APIKey               string   `toml:"api_key"`
	Model                string   `toml:"model"`
	Tier                 string   `toml:"tier"`
	MaxDurationSeconds   float64  `toml:"max_duration_seconds"`
	SupportedResolutions []string `toml:"supported_resolutions"`
	MaxConcurrentJobs    int      `toml:"max_concurrent_jobs"`
	CostPerSecond        float64  `toml:"cost_per_second"`
	MaxPromptLength      int      `toml:"max_prompt_length"`
	PromptStyle          string   `toml:"prompt_style"`
	RequestsPerSecond    float64  `toml:"requests_per_second"`
	Audio                bool     `toml:"audio"`
	LipSync              bool     `toml:"lip_sync"`
	MotionBrush          bool     `toml:"motion_brush"`
	Interpolation        bool     `toml:"interpolation"`
}

// Batch contains generation concurrency and polling settings.
type Batch struct {
	GlobalMaxInFlight        int     `toml:"global_max_in_flight"`
	PollIntervalSeconds      float64 `toml:"poll_interval_seconds"`
	PollBudgetFactor         float64 `toml:"poll_budget_factor"`
	PollTimeoutMarginSeconds int     `toml:"poll_timeout_margin_seconds"`
	Fallback                 bool    `toml:"fallback"`
}

// Retry contains the shared retry policy for outbound calls.
type Retry struct {
	MaxAttempts     int  `toml:"max_attempts"`
	BaseDelayMillis int  `toml:"base_delay_ms"`
	MaxDelaySeconds int  `toml:"max_delay_seconds"`
	Jitter          bool `toml:"jitter"`
	TimeoutRetries  int  `toml:"timeout_retries"`
}

// Audio contains the speech and score synthesis collaborator settings.
type Audio struct {
	BaseURL        string  `toml:"base_url"`
	APIKey         string  `toml:"api_key"`
	Voice          string  `toml:"voice"`
	TimeoutSeconds int     `toml:"timeout_seconds"`
	ScoreThreshold float64 `toml:"score_threshold"`
}

// Composition contains ffmpeg and output rendering settings.
type Composition struct {
	FFmpegBinary      string  `toml:"ffmpeg_binary"`
	FFprobeBinary     string  `toml:"ffprobe_binary"`
	DefaultTransition string  `toml:"default_transition"`
	TransitionSeconds float64 `toml:"transition_seconds"`
	ColorGrade        string  `toml:"color_grade"`
	Width             int     `toml:"width"`
	Height            int     `toml:"height"`
	FPS               int     `toml:"fps"`
	VideoBitrate      string  `toml:"video_bitrate"`
	AudioBitrate      string  `toml:"audio_bitrate"`
	Format            string  `toml:"format"`
	KeepIntermediates bool    `toml:"keep_intermediates"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Episodes       bool   `toml:"episodes"`
	Batches        bool   `toml:"batches"`
	Errors         bool   `toml:"errors"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for reelsmith.
//
// Configuration sections by subsystem:
//   - Paths: working, output, episode document, and state directories
//   - Providers: video generation backends and their profiles
//   - Batch: concurrency ceilings and poll budget
//   - Retry: backoff policy shared by outbound calls
//   - Audio: dialogue and score synthesis service
//   - Composition: ffmpeg binaries and output settings
//   - Notifications: ntfy push notification settings
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Providers     []Provider    `toml:"providers"`
	Batch         Batch         `toml:"batch"`
	Retry         Retry         `toml:"retry"`
	Audio         Audio         `toml:"audio"`
	Composition   Composition   `toml:"composition"`
	Notifications Notifications `toml:"notifications"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

// Parse decodes TOML content on top of the defaults, then normalizes and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.normalize(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("reelsmith.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.WorkDir, c.Paths.OutputDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// FFmpegBinary returns the ffmpeg executable used by the composition engine.
func (c *Config) FFmpegBinary() string {
	if bin := strings.TrimSpace(c.Composition.FFmpegBinary); bin != "" {
		return bin
	}
	return defaultFFmpegBinary
}

// FFprobeBinary returns the ffprobe executable name used for media inspection.
func (c *Config) FFprobeBinary() string {
	if bin := strings.TrimSpace(c.Composition.FFprobeBinary); bin != "" {
		return bin
	}
	return defaultFFprobeBinary
}

// DatabasePath returns the sqlite status mirror location.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "reelsmith.db")
}

// LockPath returns the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "reelsmith.lock")
}

// Provider returns the provider configuration with the given id.
func (c *Config) Provider(id string) (Provider, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return Provider{}, false
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration.
func SampleConfig() string {
	return sampleConfig
}
