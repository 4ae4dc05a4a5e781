package composition

import (
	"fmt"
	"path/filepath"

	"reelsmith/internal/services"
	"reelsmith/internal/timeline"
)

// Intermediate file names inside a render's work directory.
const (
	concatFile    = "01_concat.mp4"
	audioFile     = "02_audio.m4a"
	gradedFile    = "03_graded.mp4"
	mezzanineFile = "04_master.mkv"
)

// Command is one planned ffmpeg invocation.
type Command struct {
	Stage  Stage
	Args   []string
	Output string
	// Skip marks a stage with nothing to do, such as mixing when the
	// timeline has no audio.
	Skip bool
}

// intermediateArgs encode lossless-enough intermediates quickly.
var intermediateArgs = []string{"-c:v", "libx264", "-preset", "veryfast", "-crf", "16", "-pix_fmt", "yuv420p"}

// Plan builds the ffmpeg commands for every stage without running them.
func Plan(tl timeline.Timeline, s OutputSettings, dir string) ([]Command, error) {
	if err := tl.Validate(); err != nil {
		return nil, err
	}
	if n := len(tl.VideoTracks); n > 1 {
		return nil, services.Wrap(services.ErrValidation, "composition", "plan",
			fmt.Sprintf("timeline has %d video tracks; only a single video track can be rendered", n), nil)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	grade, err := gradeChain(tl.ColorGrade, tl.Effects)
	if err != nil {
		return nil, err
	}
	total := tl.TotalDurationSeconds()
	track := tl.Primary()
	concatOut := filepath.Join(dir, concatFile)
	audioOut := filepath.Join(dir, audioFile)
	gradedOut := filepath.Join(dir, gradedFile)

	var concatArgs []string
	for _, clip := range track.Clips {
		concatArgs = append(concatArgs, "-i", clip.SourceAssetURL)
	}
	concatArgs = append(concatArgs, "-filter_complex", concatGraph(track, s), "-map", "[vout]", "-an")
	concatArgs = append(concatArgs, intermediateArgs...)
	concatArgs = append(concatArgs, concatOut)

	inputs := audioInputs(tl)
	mix := Command{Stage: StageAudioMix, Output: audioOut, Skip: len(inputs) == 0}
	if !mix.Skip {
		var args []string
		for _, in := range inputs {
			args = append(args, "-i", in.clip.SourceAssetURL)
		}
		args = append(args, "-filter_complex", mixGraph(inputs, total), "-map", "[aout]", "-c:a", "aac", "-b:a", "320k", audioOut)
		mix.Args = ffmpegArgs(args...)
	}

	gradeArgs := []string{"-i", concatOut, "-vf", grade, "-an"}
	gradeArgs = append(gradeArgs, intermediateArgs...)
	gradeArgs = append(gradeArgs, gradedOut)

	encodeOut := s.outputPath(dir)
	if s.Format == "av1" {
		encodeOut = filepath.Join(dir, mezzanineFile)
	}

	return []Command{
		{Stage: StageConcat, Args: ffmpegArgs(concatArgs...), Output: concatOut},
		mix,
		{Stage: StageColorGrade, Args: ffmpegArgs(gradeArgs...), Output: gradedOut},
		{Stage: StageEncode, Args: ffmpegArgs(encodeArgs(s, gradedOut, audioOut, !mix.Skip, total, encodeOut)...), Output: encodeOut},
	}, nil
}

func encodeArgs(s OutputSettings, graded, audio string, hasAudio bool, total float64, out string) []string {
	codecs := formats[s.Format]
	args := []string{"-i", graded}
	if hasAudio {
		args = append(args, "-i", audio)
	}
	args = append(args, "-map", "0:v:0")
	if hasAudio {
		args = append(args, "-map", "1:a:0")
	}
	args = append(args, "-vf", fmt.Sprintf("scale=%d:%d:flags=lanczos,fps=%d", s.Width, s.Height, s.FPS))
	args = append(args, codecs.video...)
	if s.Format == "mp4" || s.Format == "webm" {
		args = append(args, "-b:v", s.VideoBitrate)
	}
	if hasAudio {
		args = append(args, codecs.audio...)
		if s.AudioBitrate != "" && (s.Format == "mp4" || s.Format == "webm") {
			args = append(args, "-b:a", s.AudioBitrate)
		}
	} else {
		args = append(args, "-an")
	}
	args = append(args, "-t", fixed(total))
	if s.Format == "mp4" || s.Format == "mov" {
		args = append(args, "-movflags", "+faststart")
	}
	return append(args, out)
}
