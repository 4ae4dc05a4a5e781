package preflight

import (
	"context"

	"reelsmith/internal/config"
)

// Result reports the outcome of a single preflight check.
type Result struct {
	Name     string
	Passed   bool
	Detail   string
	Required bool
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		required(CheckDirectoryAccess("Work directory", cfg.Paths.WorkDir)),
		required(CheckDirectoryAccess("Output directory", cfg.Paths.OutputDir)),
		required(CheckDirectoryAccess("State directory", cfg.Paths.StateDir)),
	}
	if cfg.Paths.EpisodesDir != "" {
		results = append(results, CheckDirectoryAccess("Episodes directory", cfg.Paths.EpisodesDir))
	}

	for _, p := range cfg.Providers {
		results = append(results, CheckProviderCredentials(p))
	}
	if len(cfg.Providers) == 0 {
		results = append(results, Result{Name: "Providers", Detail: "no providers configured", Required: true})
	}

	if cfg.Audio.BaseURL != "" {
		results = append(results, CheckEndpoint(ctx, "Audio service", cfg.Audio.BaseURL, cfg.Audio.APIKey))
	}
	return results
}

// Failed returns the required checks that did not pass.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Required && !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

func required(r Result) Result {
	r.Required = true
	return r
}
