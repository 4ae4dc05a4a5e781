// Package catalog builds the provider registry from configuration.
package catalog

import (
	"fmt"
	"net/http"

	"reelsmith/internal/config"
	"reelsmith/internal/provider"
	"reelsmith/internal/provider/kling"
	"reelsmith/internal/provider/luma"
	"reelsmith/internal/provider/runway"
	"reelsmith/internal/services"
)

// Kinds lists the backends a [[providers]] entry may name.
var Kinds = []string{"runway", "kling", "luma"}

// New constructs the backend for one provider entry.
func New(p config.Provider, client *http.Client) (provider.Provider, error) {
	switch p.Kind {
	case "runway":
		return runway.New(p, client), nil
	case "kling":
		return kling.New(p, client), nil
	case "luma":
		return luma.New(p, client), nil
	default:
		return nil, services.Wrap(services.ErrConfiguration, "provider catalog", "build", fmt.Sprintf("provider %s: unknown kind %q", p.ID, p.Kind), nil)
	}
}

// Build registers every configured provider.
func Build(cfg *config.Config, client *http.Client) (*provider.Registry, error) {
	registry, err := provider.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, p := range cfg.Providers {
		backend, err := New(p, client)
		if err != nil {
			return nil, err
		}
		if err := registry.Register(backend); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
