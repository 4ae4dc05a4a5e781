package daemon

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"reelsmith/internal/audio"
	"reelsmith/internal/batch"
	"reelsmith/internal/composition"
	"reelsmith/internal/config"
	"reelsmith/internal/episode"
	"reelsmith/internal/notifications"
	"reelsmith/internal/provider"
	"reelsmith/internal/provider/catalog"
	"reelsmith/internal/retry"
	"reelsmith/internal/store"
)

// providerRequestTimeout bounds a single provider HTTP call; polling covers
// the long wait for a clip.
const providerRequestTimeout = 60 * time.Second

// Components are the long-lived services one process owns.
type Components struct {
	Store       *store.Store
	Registry    *provider.Registry
	Batches     *batch.Manager
	Coordinator *episode.Coordinator
	Notifier    notifications.Service
}

// Close releases the store.
func (c Components) Close() error {
	if c.Store == nil {
		return nil
	}
	return c.Store.Close()
}

// Build constructs every component from configuration. The daemon and the
// one-shot CLI commands share it.
func Build(cfg *config.Config, logger *slog.Logger) (Components, error) {
	st, err := store.Open(cfg)
	if err != nil {
		return Components{}, fmt.Errorf("open store: %w", err)
	}
	comps, err := buildWithStore(cfg, st, logger)
	if err != nil {
		_ = st.Close()
		return Components{}, err
	}
	return comps, nil
}

func buildWithStore(cfg *config.Config, st *store.Store, logger *slog.Logger) (Components, error) {
	client := &http.Client{Timeout: providerRequestTimeout}
	registry, err := catalog.Build(cfg, client)
	if err != nil {
		return Components{}, err
	}
	notifier := notifications.NewService(cfg)

	dispatcher := provider.NewDispatcher(registry, provider.OptionsFromConfig(cfg), logger)
	batchOpts := batch.OptionsFromConfig(cfg)
	batchOpts.Recorder = st
	batchOpts.OnFinish = notifications.BatchFinished(notifier, logger)
	batches := batch.NewManager(registry, dispatcher, batchOpts, logger)

	var synth audio.Synthesizer
	if cfg.Audio.BaseURL != "" {
		audioClient, err := audio.NewClient(cfg.Audio, retry.FromConfig(cfg.Retry), nil, logger)
		if err != nil {
			return Components{}, err
		}
		synth = audioClient
	}

	coord := episode.NewCoordinator(episode.Dependencies{
		Source:   episode.FileSource{Dir: cfg.Paths.EpisodesDir},
		Batches:  batches,
		Audio:    synth,
		Renderer: composition.EngineFromConfig(cfg, logger),
		States:   st,
	}, episode.OptionsFromConfig(cfg), logger)
	coord.Subscribe(notifications.EpisodeSubscriber(notifier, logger))

	return Components{
		Store:       st,
		Registry:    registry,
		Batches:     batches,
		Coordinator: coord,
		Notifier:    notifier,
	}, nil
}
