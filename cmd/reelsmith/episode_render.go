package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"reelsmith/internal/episode"
	"reelsmith/internal/logging"
)

var titleCase = cases.Title(language.English)

// phaseLabel turns generate_video into "Generate Video".
func phaseLabel(phase episode.Phase) string {
	if phase == "" {
		return "-"
	}
	return titleCase.String(strings.ReplaceAll(string(phase), "_", " "))
}

func episodeStatusKind(status episode.Status) statusKind {
	switch status {
	case episode.StatusCompleted:
		return statusOK
	case episode.StatusFailed:
		return statusError
	default:
		return statusInfo
	}
}

// progressPrinter writes sampled progress lines. Coordinator events may
// arrive from several goroutines.
type progressPrinter struct {
	mu      sync.Mutex
	out     io.Writer
	sampler *logging.ProgressSampler
}

func newProgressPrinter(out io.Writer) *progressPrinter {
	return &progressPrinter{out: out, sampler: logging.NewProgressSampler(10)}
}

func (p *progressPrinter) print(phase episode.Phase, percent float64, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.sampler.ShouldLog(percent, string(phase)) {
		return
	}
	line := fmt.Sprintf("%5.1f%%  %s", percent, phaseLabel(phase))
	if message != "" {
		line += "  " + message
	}
	fmt.Fprintln(p.out, line)
}

func (p *progressPrinter) event(ev episode.ProgressEvent) {
	p.print(ev.Phase, ev.Percent, ev.Message)
}

func (p *progressPrinter) state(state *episode.State) {
	if state == nil {
		return
	}
	percent := -1.0
	if state.Render != nil {
		percent = state.Render.ProgressPercent
	}
	p.print(state.Phase, percent, "")
}

func renderEpisodeState(out io.Writer, state *episode.State, running bool, colorize bool) {
	for _, line := range renderSectionHeader("Episode "+state.EpisodeID, colorize) {
		fmt.Fprintln(out, line)
	}
	status := string(state.Status)
	if running {
		status += " (in progress)"
	}
	fmt.Fprintln(out, renderStatusLine("Status", episodeStatusKind(state.Status), status, colorize))
	fmt.Fprintln(out, renderField("Phase", phaseLabel(state.Phase)))
	if state.Status == episode.StatusFailed {
		fmt.Fprintln(out, renderField("Failed phase", phaseLabel(state.FailedPhase)))
		fmt.Fprintln(out, renderField("Error kind", string(state.ErrorKind)))
		fmt.Fprintln(out, renderField("Resumable", yesNo(state.Resumable)))
		if state.Error != "" {
			fmt.Fprintln(out, renderField("Error", state.Error))
		}
	}
	fmt.Fprintln(out, renderField("Attempts", strconv.Itoa(state.Attempts)))
	if state.Episode != nil {
		fmt.Fprintln(out, renderField("Clips", fmt.Sprintf("%d of %d shots", len(state.Clips), len(state.Episode.Shots))))
	}
	if state.OutputPath != "" {
		fmt.Fprintln(out, renderField("Output", state.OutputPath))
		fmt.Fprintln(out, renderField("Duration", fmt.Sprintf("%.2fs", state.DurationSeconds)))
	}

	if len(state.FailedShots) == 0 {
		return
	}
	ids := make([]string, 0, len(state.FailedShots))
	for id := range state.FailedShots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []string{id, state.FailedShots[id]})
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderTable([]string{"Skipped shot", "Reason"}, rows, nil))
}
