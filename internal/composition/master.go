package composition

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	draptolib "github.com/five82/drapto"

	"reelsmith/internal/logging"
)

// Mastering turns a mezzanine into the final AV1 file. It returns the path
// it wrote.
type Mastering interface {
	Encode(ctx context.Context, inputPath, outputDir string, progress func(percent float64)) (string, error)
}

// DraptoMaster encodes AV1 masters with the drapto library.
type DraptoMaster struct {
	logger *slog.Logger
}

// NewDraptoMaster constructs the library-backed mastering step.
func NewDraptoMaster(logger *slog.Logger) *DraptoMaster {
	return &DraptoMaster{logger: logging.NewComponentLogger(logger, "drapto")}
}

// Encode runs drapto against inputPath. Drapto names its output after the
// input stem with an .mkv extension.
func (d *DraptoMaster) Encode(ctx context.Context, inputPath, outputDir string, progress func(float64)) (string, error) {
	encoder, err := draptolib.New(draptolib.WithResponsive())
	if err != nil {
		return "", err
	}
	rep := &masterReporter{logger: d.logger, progress: progress}
	if _, err := encoder.EncodeWithReporter(ctx, inputPath, outputDir, rep); err != nil {
		return "", err
	}
	base := filepath.Base(inputPath)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(outputDir, stem+".mkv"), nil
}

// masterReporter forwards drapto progress and logs its diagnostics.
type masterReporter struct {
	logger   *slog.Logger
	progress func(float64)
}

func (r *masterReporter) report(percent float64) {
	if r.progress != nil {
		r.progress(percent)
	}
}

func (r *masterReporter) Hardware(s draptolib.HardwareSummary) {
	r.logger.Debug("drapto hardware", logging.String("hostname", s.Hostname))
}

func (r *masterReporter) Initialization(s draptolib.InitializationSummary) {
	r.logger.Info("drapto initialized",
		logging.String("input", s.InputFile),
		logging.String("resolution", s.Resolution),
		logging.String("dynamic_range", s.DynamicRange),
	)
}

func (r *masterReporter) StageProgress(s draptolib.StageProgress) {
	r.logger.Debug("drapto stage", logging.String(logging.FieldStage, s.Stage), logging.String("message", s.Message))
}

func (r *masterReporter) CropResult(s draptolib.CropSummary) {
	r.logger.Debug("drapto crop", logging.String("crop", s.Crop), logging.Bool("required", s.Required))
}

func (r *masterReporter) EncodingConfig(s draptolib.EncodingConfigSummary) {
	r.logger.Info("drapto encoding config",
		logging.String("encoder", s.Encoder),
		logging.String("preset", s.Preset),
		logging.String("quality", s.Quality),
	)
}

func (r *masterReporter) EncodingStarted(totalFrames uint64) {
	r.logger.Debug("drapto encoding started", logging.Int64("total_frames", int64(totalFrames)))
	r.report(0)
}

func (r *masterReporter) EncodingProgress(s draptolib.ProgressSnapshot) {
	r.report(float64(s.Percent))
}

func (r *masterReporter) ValidationComplete(s draptolib.ValidationSummary) {
	r.logger.Info("drapto validation", logging.Bool("passed", s.Passed))
}

func (r *masterReporter) EncodingComplete(s draptolib.EncodingOutcome) {
	r.logger.Info("drapto encoding complete",
		logging.String("output", s.OutputPath),
		logging.Int64("encoded_bytes", int64(s.EncodedSize)),
	)
	r.report(100)
}

func (r *masterReporter) Warning(message string) {
	r.logger.Warn("drapto warning", logging.String("message", message))
}

func (r *masterReporter) Error(e draptolib.ReporterError) {
	r.logger.Error("drapto error",
		logging.String("title", e.Title),
		logging.String("message", e.Message),
		logging.String(logging.FieldErrorHint, e.Suggestion),
	)
}

func (r *masterReporter) OperationComplete(message string) {
	r.logger.Debug("drapto operation complete", logging.String("message", message))
}

func (r *masterReporter) BatchStarted(draptolib.BatchStartInfo)      {}
func (r *masterReporter) FileProgress(draptolib.FileProgressContext) {}
func (r *masterReporter) BatchComplete(draptolib.BatchSummary)       {}

var _ draptolib.Reporter = (*masterReporter)(nil)
var _ Mastering = (*DraptoMaster)(nil)
