package services_test

import (
	"context"
	"testing"

	"reelsmith/internal/services"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	ctx = services.WithEpisodeID(ctx, "ep-7")
	ctx = services.WithJobID(ctx, "job-1")
	ctx = services.WithBatchID(ctx, "batch-1")
	ctx = services.WithPhaseContext(ctx, "render")
	ctx = services.WithProvider(ctx, "luma")
	ctx = services.WithRequestID(ctx, "req-123")

	checks := []struct {
		name string
		fn   func(context.Context) (string, bool)
		want string
	}{
		{"episode", services.EpisodeIDFromContext, "ep-7"},
		{"job", services.JobIDFromContext, "job-1"},
		{"batch", services.BatchIDFromContext, "batch-1"},
		{"phase", services.PhaseFromContext, "render"},
		{"provider", services.ProviderFromContext, "luma"},
		{"request", services.RequestIDFromContext, "req-123"},
	}
	for _, c := range checks {
		if got, ok := c.fn(ctx); !ok || got != c.want {
			t.Fatalf("unexpected %s: %q %v", c.name, got, ok)
		}
	}
}

func TestBlankValuePreservesContext(t *testing.T) {
	ctx := services.WithPhaseContext(context.Background(), "")
	if _, ok := services.PhaseFromContext(ctx); ok {
		t.Fatal("expected no phase value")
	}
}
