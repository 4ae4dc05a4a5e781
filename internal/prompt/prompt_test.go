package prompt_test

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"reelsmith/internal/generation"
	"reelsmith/internal/prompt"
)

var update = flag.Bool("update", false, "rewrite golden files")

func foxDescription() prompt.Description {
	return prompt.Description{
		Subject:  "A  red fox",
		Motion:   "leaps across a frozen stream.",
		Camera:   "Zoom in slowly",
		Mood:     "Tense",
		Style:    "Watercolor",
		Negative: "blur, text, blur",
	}
}

func profile(style generation.PromptStyle, limit int) generation.Profile {
	return generation.Profile{ID: "test", PromptStyle: style, MaxPromptLength: limit, MaxConcurrentJobs: 1}
}

func TestOptimizeGolden(t *testing.T) {
	for _, style := range []generation.PromptStyle{generation.PromptNatural, generation.PromptTagged, generation.PromptWeighted} {
		t.Run(string(style), func(t *testing.T) {
			got := prompt.Optimize(foxDescription(), profile(style, 500))
			path := filepath.Join("testdata", string(style)+".golden")
			if *update {
				if err := os.WriteFile(path, []byte(got+"\n"), 0o644); err != nil {
					t.Fatal(err)
				}
			}
			want, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("read golden: %v", err)
			}
			if got != strings.TrimRight(string(want), "\n") {
				t.Fatalf("got %q want %q", got, want)
			}
		})
	}
}

func TestOptimizeIsDeterministic(t *testing.T) {
	p := profile(generation.PromptTagged, 120)
	first := prompt.Optimize(foxDescription(), p)
	for i := 0; i < 10; i++ {
		if got := prompt.Optimize(foxDescription(), p); got != first {
			t.Fatalf("run %d: got %q want %q", i, got, first)
		}
	}
}

func TestOptimizeDropsClausesByPriority(t *testing.T) {
	tests := []struct {
		limit int
		want  string
	}{
		{60, "A red fox, leaps across a frozen stream."},
		{70, "A red fox, leaps across a frozen stream. Camera: push in slowly."},
		{20, "A red fox, leaps."},
	}
	for _, tt := range tests {
		got := prompt.Optimize(foxDescription(), profile(generation.PromptNatural, tt.limit))
		if got != tt.want {
			t.Fatalf("limit %d: got %q want %q", tt.limit, got, tt.want)
		}
		if utf8.RuneCountInString(got) > tt.limit {
			t.Fatalf("limit %d exceeded: %d", tt.limit, utf8.RuneCountInString(got))
		}
	}
}

func TestOptimizeNormalizesUnicode(t *testing.T) {
	d := prompt.Description{Subject: "Café at dusk", Motion: "steam rises"}
	got := prompt.Optimize(d, profile(generation.PromptWeighted, 0))
	if got != "Café at dusk, steam rises" {
		t.Fatalf("got %q", got)
	}
}

func TestFromRequest(t *testing.T) {
	d := prompt.FromRequest(generation.Request{Subject: "owl", MotionDescription: "blinks", CameraInstruction: "static"})
	if d.Subject != "owl" || d.Motion != "blinks" || d.Camera != "static" {
		t.Fatalf("unexpected description: %+v", d)
	}
}

func TestScoreRangeAndOrdering(t *testing.T) {
	p := profile(generation.PromptNatural, 200)
	rich := prompt.Optimize(foxDescription(), p)
	richScore := prompt.Score(rich, p)
	bareScore := prompt.Score("a fox", p)
	if richScore <= bareScore {
		t.Fatalf("expected rich prompt to outscore bare prompt: %d <= %d", richScore, bareScore)
	}
	for _, s := range []int{richScore, bareScore, prompt.Score("", p)} {
		if s < 0 || s > 100 {
			t.Fatalf("score out of range: %d", s)
		}
	}
	if prompt.Score("", p) != 0 {
		t.Fatalf("expected empty prompt to score 0, got %d", prompt.Score("", p))
	}
	if prompt.Score(rich, p) != richScore {
		t.Fatal("expected deterministic score")
	}
}

func TestScorePenalizesContradictions(t *testing.T) {
	p := profile(generation.PromptNatural, 100)
	clean := prompt.Score("pan left across a calm lake at dawn", p)
	contradictory := prompt.Score("static camera, pan left across a calm lake at dawn", p)
	if contradictory >= clean {
		t.Fatalf("expected contradiction penalty: %d >= %d", contradictory, clean)
	}
	negated := prompt.Score("a misty forest with blur, drifting fog --no blur", p)
	plain := prompt.Score("a misty forest with shadows, drifting fog --no blur", p)
	if negated >= plain {
		t.Fatalf("expected negated-term penalty: %d >= %d", negated, plain)
	}
}

func TestScorePenalizesOverLimit(t *testing.T) {
	p := profile(generation.PromptNatural, 10)
	if got := prompt.Score("a fox leaps across the frozen stream", p); got >= prompt.Score("a fox leaps across the frozen stream", profile(generation.PromptNatural, 100)) {
		t.Fatalf("expected over-limit prompt to lose length credit, got %d", got)
	}
}
