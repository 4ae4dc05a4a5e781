package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"reelsmith/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}
	wantWork := filepath.Join(tempHome, ".local", "share", "reelsmith", "work")
	if cfg.Paths.WorkDir != wantWork {
		t.Fatalf("unexpected work dir: got %q want %q", cfg.Paths.WorkDir, wantWork)
	}
	if cfg.Paths.APIBind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.Retry.TimeoutRetries != 1 {
		t.Fatalf("expected one timeout retry by default, got %d", cfg.Retry.TimeoutRetries)
	}
	if cfg.DatabasePath() != filepath.Join(tempHome, ".local", "share", "reelsmith", "state", "reelsmith.db") {
		t.Fatalf("unexpected database path: %q", cfg.DatabasePath())
	}
}

func TestSampleConfigLoads(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}
	cfg, _, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load sample: %v", err)
	}
	if !exists {
		t.Fatal("expected sample file to exist")
	}
	if len(cfg.Providers) != 3 {
		t.Fatalf("expected 3 providers, got %d", len(cfg.Providers))
	}
	luma, ok := cfg.Provider("luma")
	if !ok {
		t.Fatal("expected luma provider")
	}
	if luma.PromptStyle != "weighted" || !luma.Interpolation {
		t.Fatalf("unexpected luma profile: %+v", luma)
	}
}

func TestProviderAPIKeyFromEnv(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("REELSMITH_RUNWAY_API_KEY", "secret")
	cfg, err := config.Parse([]byte(`
[[providers]]
id = "runway"
max_duration_seconds = 10
supported_resolutions = ["1280x720", " 1280X720 "]
max_concurrent_jobs = 1
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	p := cfg.Providers[0]
	if p.APIKey != "secret" {
		t.Fatalf("expected env api key, got %q", p.APIKey)
	}
	if p.Kind != "runway" || p.Tier != "standard" || p.PromptStyle != "natural" {
		t.Fatalf("unexpected normalized provider: %+v", p)
	}
	if len(p.SupportedResolutions) != 1 {
		t.Fatalf("expected deduplicated resolutions, got %v", p.SupportedResolutions)
	}
}

func TestProviderKeyEnv(t *testing.T) {
	if got := config.ProviderKeyEnv("kling-pro"); got != "REELSMITH_KLING_PRO_API_KEY" {
		t.Fatalf("ProviderKeyEnv = %q", got)
	}
}

func TestValidateRejectsInvalidProviders(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	tests := []struct {
		name string
		toml string
		want string
	}{
		{
			name: "zero concurrency",
			toml: "[[providers]]\nid = \"luma\"\nmax_duration_seconds = 5\nsupported_resolutions = [\"1280x720\"]\nmax_concurrent_jobs = 0\n",
			want: "max_concurrent_jobs",
		},
		{
			name: "negative cost",
			toml: "[[providers]]\nid = \"luma\"\nmax_duration_seconds = 5\nsupported_resolutions = [\"1280x720\"]\nmax_concurrent_jobs = 1\ncost_per_second = -1\n",
			want: ">= 0",
		},
		{
			name: "duplicate id",
			toml: strings.Repeat("[[providers]]\nid = \"luma\"\nmax_duration_seconds = 5\nsupported_resolutions = [\"1280x720\"]\nmax_concurrent_jobs = 1\n", 2),
			want: "duplicate",
		},
		{
			name: "unknown kind",
			toml: "[[providers]]\nid = \"sora\"\nmax_duration_seconds = 5\nsupported_resolutions = [\"1280x720\"]\nmax_concurrent_jobs = 1\n",
			want: "not supported",
		},
		{
			name: "odd width",
			toml: "[composition]\nwidth = 1921\n",
			want: "even",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Parse([]byte(tt.toml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[paths]\nstaging_dir = \"/tmp\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, _, err := config.Load(path); err == nil {
		t.Fatal("expected error for unknown key")
	}
}
