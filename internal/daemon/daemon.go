package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"reelsmith/internal/batch"
	"reelsmith/internal/composition"
	"reelsmith/internal/config"
	"reelsmith/internal/deps"
	"reelsmith/internal/episode"
	"reelsmith/internal/generation"
	"reelsmith/internal/httpapi"
	"reelsmith/internal/logging"
	"reelsmith/internal/notifications"
	"reelsmith/internal/preflight"
	"reelsmith/internal/services"
	"reelsmith/internal/workdir"
)

// staleRenderAge is how long an abandoned render directory survives restarts.
const staleRenderAge = 72 * time.Hour

// ErrLocked reports that another process holds the instance lock.
var ErrLocked = errors.New("another reelsmith daemon instance is already running")

// Daemon owns the components for the life of the process and enforces
// single-instance execution.
type Daemon struct {
	cfg    *config.Config
	logger *slog.Logger
	comps  Components
	api    *httpapi.Server

	lockPath string
	lock     *flock.Flock

	running atomic.Bool
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	work    sync.WaitGroup
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool          `json:"running"`
	APIAddress    string        `json:"api_address,omitempty"`
	DatabasePath  string        `json:"database_path"`
	LockFilePath  string        `json:"lock_file_path"`
	Providers     int           `json:"providers"`
	ActiveBatches int           `json:"active_batches"`
	Dependencies  []deps.Status `json:"dependencies"`
}

// New constructs a daemon around already built components.
func New(cfg *config.Config, logger *slog.Logger, comps Components) (*Daemon, error) {
	if cfg == nil || comps.Store == nil || comps.Batches == nil || comps.Coordinator == nil {
		return nil, errors.New("daemon requires config, store, batch manager, and coordinator")
	}
	if comps.Notifier == nil {
		comps.Notifier = notifications.NewService(cfg)
	}
	logger = logging.NewComponentLogger(logger, "daemon")
	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logger,
		comps:    comps,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}
	d.api = httpapi.New(strings.TrimSpace(cfg.Paths.APIBind), cfg.Paths.APIToken, d, logger)
	return d, nil
}

// Start acquires the lock, runs preflight, primes the generation cache, and
// starts the HTTP API.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return ErrLocked
	}

	if failed := preflight.Failed(preflight.RunAll(ctx, d.cfg)); len(failed) > 0 {
		_ = d.lock.Unlock()
		details := make([]string, 0, len(failed))
		for _, r := range failed {
			details = append(details, r.Name+": "+r.Detail)
		}
		return services.Wrap(services.ErrConfiguration, "daemon", "preflight", strings.Join(details, "; "), nil)
	}

	jobs, err := d.comps.Store.CompletedJobs(ctx)
	if err != nil {
		d.logger.Warn("generation cache not primed",
			logging.Error(err),
			logging.String(logging.FieldImpact, "previously generated clips will be generated again"),
		)
	}
	d.comps.Batches.Prime(jobs)

	if !d.cfg.Composition.KeepIntermediates {
		workdir.CleanStale(ctx, composition.RenderRoot(d.cfg), staleRenderAge, nil, d.logger)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.api.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start api: %w", err)
	}
	d.mu.Lock()
	d.ctx, d.cancel = runCtx, cancel
	d.mu.Unlock()

	d.running.Store(true)
	d.logger.Info("reelsmith daemon started",
		logging.String("lock", d.lockPath),
		logging.Int("cached_clips", len(jobs)),
		logging.String(logging.FieldEventType, "daemon_started"),
	)
	return nil
}

// Stop cancels background work, waits for it, and releases the lock.
func (d *Daemon) Stop() {
	if !d.running.Swap(false) {
		return
	}
	d.mu.Lock()
	cancel := d.cancel
	d.ctx, d.cancel = nil, nil
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	for _, run := range d.comps.Batches.Runs() {
		run.Cancel()
	}
	d.work.Wait()
	d.api.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.logger.Info("reelsmith daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	return d.comps.Close()
}

// Assemble schedules an assembly in the background.
func (d *Daemon) Assemble(episodeID string) error {
	if strings.TrimSpace(episodeID) == "" {
		return services.New(services.KindValidation, "assemble", "episode id is required", nil)
	}
	// Registering under the lock keeps Stop from waiting before the work exists.
	d.mu.Lock()
	ctx := d.ctx
	if ctx != nil {
		d.work.Add(1)
	}
	d.mu.Unlock()
	if ctx == nil {
		return services.New(services.KindTransient, "assemble", "daemon is not running", nil)
	}
	if d.comps.Coordinator.Running(episodeID) {
		d.work.Done()
		return services.New(services.KindTransient, "assemble", fmt.Sprintf("episode %s is already being assembled", episodeID), nil)
	}

	go func() {
		defer d.work.Done()
		out, err := d.comps.Coordinator.Assemble(ctx, episodeID)
		if err != nil {
			// The coordinator has already logged and persisted the failure.
			return
		}
		d.logger.Info("episode assembled",
			logging.String(logging.FieldEpisodeID, out.EpisodeID),
			logging.String("output", out.OutputPath),
			logging.Bool("cached", out.Cached),
		)
	}()
	return nil
}

// runContext is nil unless the daemon is running.
func (d *Daemon) runContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ctx
}

// EpisodeState implements httpapi.Backend.
func (d *Daemon) EpisodeState(ctx context.Context, episodeID string) (*episode.State, bool, error) {
	state, err := d.comps.Coordinator.State(ctx, episodeID)
	if err != nil {
		return nil, false, err
	}
	return state, d.comps.Coordinator.Running(episodeID), nil
}

// StartBatch implements httpapi.Backend. The run outlives the request.
func (d *Daemon) StartBatch(_ context.Context, episodeID string, requests []generation.Request) (batch.Snapshot, error) {
	for _, req := range requests {
		if err := req.Validate(); err != nil {
			return batch.Snapshot{}, err
		}
	}
	ctx := d.runContext()
	if ctx == nil {
		return batch.Snapshot{}, services.New(services.KindTransient, "batch", "daemon is not running", nil)
	}
	run, err := d.comps.Batches.Start(ctx, episodeID, requests)
	if err != nil {
		return batch.Snapshot{}, err
	}
	return run.Snapshot(), nil
}

// Batch implements httpapi.Backend. Live runs win over the mirror.
func (d *Daemon) Batch(ctx context.Context, batchID string) (*batch.Snapshot, error) {
	if run, ok := d.comps.Batches.Get(batchID); ok {
		snap := run.Snapshot()
		return &snap, nil
	}
	return d.comps.Store.Batch(ctx, batchID)
}

// CancelBatch implements httpapi.Backend.
func (d *Daemon) CancelBatch(batchID string) bool {
	run, ok := d.comps.Batches.Get(batchID)
	if !ok {
		return false
	}
	select {
	case <-run.Done():
		return false
	default:
	}
	run.Cancel()
	d.logger.Info("batch cancel requested", logging.String(logging.FieldBatchID, batchID))
	return true
}

// Providers implements httpapi.Backend.
func (d *Daemon) Providers() []generation.Profile {
	if d.comps.Registry == nil {
		return nil
	}
	return d.comps.Registry.Profiles()
}

// TestNotification sends a test notification using the current configuration.
func (d *Daemon) TestNotification(ctx context.Context) (bool, string, error) {
	if strings.TrimSpace(d.cfg.Notifications.NtfyTopic) == "" {
		return false, "ntfy topic not configured", nil
	}
	if err := d.comps.Notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, "failed to send notification", err
	}
	return true, "test notification sent", nil
}

// Status returns the current daemon status.
func (d *Daemon) Status(context.Context) Status {
	active := 0
	for _, run := range d.comps.Batches.Runs() {
		select {
		case <-run.Done():
		default:
			active++
		}
	}
	providers := 0
	if d.comps.Registry != nil {
		providers = d.comps.Registry.Len()
	}
	return Status{
		Running:       d.running.Load(),
		APIAddress:    d.api.Addr(),
		DatabasePath:  d.comps.Store.Path(),
		LockFilePath:  d.lockPath,
		Providers:     providers,
		ActiveBatches: active,
		Dependencies:  preflight.CheckSystemDeps(d.cfg),
	}
}
