package composition

import (
	"fmt"
	"path/filepath"
	"strings"

	"reelsmith/internal/config"
	"reelsmith/internal/services"
)

// OutputSettings describes the rendered artifact.
type OutputSettings struct {
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	FPS          int    `json:"fps"`
	VideoBitrate string `json:"video_bitrate"`
	AudioBitrate string `json:"audio_bitrate"`
	// Format is mp4, webm, mov, or av1.
	Format string `json:"format"`
	// OutputPath is the final file. When empty the engine writes into its
	// work directory.
	OutputPath string `json:"output_path,omitempty"`
}

// SettingsFromConfig reads the [composition] section.
func SettingsFromConfig(cfg config.Composition) OutputSettings {
	return OutputSettings{
		Width:        cfg.Width,
		Height:       cfg.Height,
		FPS:          cfg.FPS,
		VideoBitrate: cfg.VideoBitrate,
		AudioBitrate: cfg.AudioBitrate,
		Format:       cfg.Format,
	}
}

// Validate rejects settings ffmpeg cannot honour.
func (s OutputSettings) Validate() error {
	switch {
	case s.Width <= 0 || s.Height <= 0 || s.Width%2 != 0 || s.Height%2 != 0:
		return invalidSettings(fmt.Sprintf("resolution %dx%d must be positive and even", s.Width, s.Height))
	case s.FPS <= 0:
		return invalidSettings("fps must be positive")
	case strings.TrimSpace(s.VideoBitrate) == "":
		return invalidSettings("video bitrate is required")
	}
	if _, ok := formats[s.Format]; !ok {
		return invalidSettings(fmt.Sprintf("unknown format %q", s.Format))
	}
	return nil
}

// Extension is the container extension for the format.
func (s OutputSettings) Extension() string {
	return formats[s.Format].ext
}

// Resolution renders WIDTHxHEIGHT.
func (s OutputSettings) Resolution() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

func (s OutputSettings) outputPath(dir string) string {
	if s.OutputPath != "" {
		return s.OutputPath
	}
	return filepath.Join(dir, "episode"+s.Extension())
}

type formatSpec struct {
	ext   string
	video []string
	audio []string
}

// formats maps the configured format to container and codec flags. av1 is
// produced in two steps, so its ffmpeg flags describe the mezzanine.
var formats = map[string]formatSpec{
	"mp4": {
		ext:   ".mp4",
		video: []string{"-c:v", "libx264", "-preset", "medium", "-pix_fmt", "yuv420p"},
		audio: []string{"-c:a", "aac"},
	},
	"webm": {
		ext:   ".webm",
		video: []string{"-c:v", "libvpx-vp9", "-row-mt", "1", "-pix_fmt", "yuv420p"},
		audio: []string{"-c:a", "libopus"},
	},
	"mov": {
		ext:   ".mov",
		video: []string{"-c:v", "prores_ks", "-profile:v", "3", "-pix_fmt", "yuv422p10le"},
		audio: []string{"-c:a", "pcm_s16le"},
	},
	"av1": {
		ext:   ".mkv",
		video: []string{"-c:v", "libx264", "-preset", "slow", "-crf", "12", "-pix_fmt", "yuv420p"},
		audio: []string{"-c:a", "flac"},
	},
}

func invalidSettings(msg string) error {
	return services.Wrap(services.ErrValidation, "composition", "output settings", msg, nil)
}
