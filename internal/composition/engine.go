package composition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"reelsmith/internal/config"
	"reelsmith/internal/fileutil"
	"reelsmith/internal/logging"
	"reelsmith/internal/media/ffprobe"
	"reelsmith/internal/services"
	"reelsmith/internal/timeline"
)

// Options configures an Engine.
type Options struct {
	FFmpegBinary string
	// FFprobeBinary enables output verification when set.
	FFprobeBinary     string
	WorkDir           string
	KeepIntermediates bool
	Master            Mastering
}

// Engine renders timelines with ffmpeg.
type Engine struct {
	opts   Options
	logger *slog.Logger
}

// NewEngine constructs an engine.
func NewEngine(opts Options, logger *slog.Logger) *Engine {
	if opts.FFmpegBinary == "" {
		opts.FFmpegBinary = "ffmpeg"
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Engine{opts: opts, logger: logging.NewComponentLogger(logger, "composition")}
}

// RenderRoot is the directory holding one work directory per render.
func RenderRoot(cfg *config.Config) string {
	return filepath.Join(cfg.Paths.WorkDir, "renders")
}

// EngineFromConfig wires the engine to the configured binaries and drapto.
func EngineFromConfig(cfg *config.Config, logger *slog.Logger) *Engine {
	return NewEngine(Options{
		FFmpegBinary:      cfg.FFmpegBinary(),
		FFprobeBinary:     cfg.FFprobeBinary(),
		WorkDir:           RenderRoot(cfg),
		KeepIntermediates: cfg.Composition.KeepIntermediates,
		Master:            NewDraptoMaster(logger),
	}, logger)
}

// Start validates the inputs, plans every stage, and renders in the
// background. Cancelling ctx or the returned job stops the render. observe,
// when set, receives a snapshot after every state change.
func (e *Engine) Start(ctx context.Context, tl timeline.Timeline, s OutputSettings, observe func(Snapshot)) (*RenderJob, error) {
	id := uuid.NewString()
	dir := filepath.Join(e.opts.WorkDir, id)
	commands, err := Plan(tl, s, dir)
	if err != nil {
		return nil, err
	}
	if s.Format == "av1" && e.opts.Master == nil {
		return nil, services.Wrap(services.ErrConfiguration, "composition", "start", "av1 output requires a mastering encoder", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, services.Wrap(services.ErrConfiguration, "composition", "work dir", dir, err)
	}
	if s.OutputPath != "" {
		if err := os.MkdirAll(filepath.Dir(s.OutputPath), 0o755); err != nil {
			return nil, services.Wrap(services.ErrConfiguration, "composition", "output dir", s.OutputPath, err)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	job := newRenderJob(id, dir, cancel, time.Now(), observe)
	logger := logging.WithContext(ctx, e.logger).With(logging.String(logging.FieldJobID, id))
	logger.Info("render started",
		logging.Int("clips", len(tl.Primary().Clips)),
		logging.Float64("duration_seconds", tl.TotalDurationSeconds()),
		logging.String("format", s.Format),
		logging.String("resolution", s.Resolution()),
		logging.String(logging.FieldEventType, "render_started"),
	)
	go e.run(runCtx, logger, job, commands, tl.TotalDurationSeconds(), s)
	return job, nil
}

// Render runs a timeline to completion.
func (e *Engine) Render(ctx context.Context, tl timeline.Timeline, s OutputSettings, observe func(Snapshot)) (Snapshot, error) {
	job, err := e.Start(ctx, tl, s, observe)
	if err != nil {
		return Snapshot{}, err
	}
	return job.Wait(context.WithoutCancel(ctx))
}

func (e *Engine) run(ctx context.Context, logger *slog.Logger, job *RenderJob, commands []Command, total float64, s OutputSettings) {
	defer job.cancel()
	sampler := logging.NewProgressSampler(10)
	var final string
	for _, cmd := range commands {
		if cmd.Skip {
			logger.Debug("stage skipped", logging.String(logging.FieldStage, string(cmd.Stage)))
			job.progress(cmd.Stage, 100)
			continue
		}
		job.enter(cmd.Stage)
		stageLogger := logger.With(logging.String(logging.FieldStage, string(cmd.Stage)))
		stageLogger.Info("stage started", logging.String(logging.FieldEventType, "render_stage_started"))
		onPercent := func(p float64) {
			if cmd.Stage == StageEncode && s.Format == "av1" {
				p *= 0.3
			}
			job.progress(cmd.Stage, p)
			if sampler.ShouldLog(p, string(cmd.Stage)) {
				stageLogger.Debug("stage progress", logging.Float64(logging.FieldProgressPercent, p))
			}
		}
		if err := runFFmpeg(ctx, e.opts.FFmpegBinary, cmd.Stage, cmd.Args, total, onPercent); err != nil {
			e.abort(stageLogger, job, cmd, err)
			return
		}
		if cmd.Stage != StageEncode {
			job.addIntermediate(cmd.Output)
		}
		final = cmd.Output
	}

	if s.Format == "av1" {
		mastered, err := e.master(ctx, job, final, s)
		if err != nil {
			e.abort(logger, job, Command{Stage: StageEncode, Output: s.outputPath(job.Snapshot().WorkDir)}, err)
			return
		}
		job.addIntermediate(final)
		final = mastered
	}

	duration, err := e.verify(ctx, final)
	if err != nil {
		e.abort(logger, job, Command{Stage: StageEncode}, err)
		return
	}
	if !e.opts.KeepIntermediates {
		for _, path := range job.Snapshot().Intermediates {
			_ = os.Remove(path)
		}
		job.update(func(s *Snapshot) { s.Intermediates = nil })
	}
	job.finish(StatusCompleted, final, duration, nil)
	logger.Info("render completed",
		logging.String("output", final),
		logging.Float64("duration_seconds", duration),
		logging.String(logging.FieldEventType, "render_completed"),
	)
}

// master hands the mezzanine to the mastering encoder and moves its output
// to the requested path.
func (e *Engine) master(ctx context.Context, job *RenderJob, mezzanine string, s OutputSettings) (string, error) {
	dir := filepath.Join(job.Snapshot().WorkDir, "master")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", services.New(services.KindFatal, "composition encode", "create master dir", err)
	}
	produced, err := e.opts.Master.Encode(ctx, mezzanine, dir, func(p float64) {
		job.progress(StageEncode, 30+clampPercent(p)*0.7)
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", services.New(services.KindCancelled, "composition encode", "render cancelled", ctx.Err())
		}
		return "", services.New(services.KindFatal, "composition encode", "av1 mastering failed", err)
	}
	target := s.outputPath(job.Snapshot().WorkDir)
	if produced != target {
		if err := fileutil.MoveFile(produced, target); err != nil {
			return "", services.New(services.KindFatal, "composition encode", "move master", err)
		}
	}
	return target, nil
}

// verify probes the output when ffprobe is configured.
func (e *Engine) verify(ctx context.Context, path string) (float64, error) {
	if e.opts.FFprobeBinary == "" {
		return 0, nil
	}
	result, err := ffprobe.Inspect(ctx, e.opts.FFprobeBinary, path)
	if err != nil {
		return 0, services.New(services.KindFatal, "composition verify", "probe output", err)
	}
	if result.VideoStreamCount() == 0 {
		return 0, services.New(services.KindFatal, "composition verify", fmt.Sprintf("%s has no video stream", path), nil)
	}
	return result.DurationSeconds(), nil
}

func (e *Engine) abort(logger *slog.Logger, job *RenderJob, cmd Command, err error) {
	err = services.WithPhase(err, string(cmd.Stage))
	if services.KindOf(err) == services.KindCancelled {
		if cmd.Output != "" {
			if rmErr := os.Remove(cmd.Output); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
				logger.Warn("partial output not removed", logging.String("path", cmd.Output), logging.Error(rmErr))
			}
		}
		job.finish(StatusCancelled, "", 0, err)
		logger.Info("render cancelled", logging.String(logging.FieldEventType, "render_cancelled"))
		return
	}
	job.finish(StatusFailed, "", 0, err)
	logging.ErrorWithContext(logger, "render failed", "render_failed",
		logging.String(logging.FieldErrorKind, string(services.KindOf(err))),
		logging.Error(err),
		logging.String(logging.FieldImpact, "earlier intermediates kept for diagnosis"),
	)
}
