package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reelsmith/internal/composition"
	"reelsmith/internal/config"
	"reelsmith/internal/timeline"
)

func newRenderCommand(ctx *commandContext) *cobra.Command {
	var output string
	var format string

	cmd := &cobra.Command{
		Use:   "render <timeline.json>",
		Short: "Render a timeline document with ffmpeg",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			path, err := config.ExpandPath(args[0])
			if err != nil {
				return err
			}
			tl, err := timeline.Load(path)
			if err != nil {
				return err
			}

			settings := composition.SettingsFromConfig(cfg.Composition)
			if f := strings.TrimSpace(format); f != "" {
				settings.Format = f
			}
			if o := strings.TrimSpace(output); o != "" {
				expanded, err := config.ExpandPath(o)
				if err != nil {
					return err
				}
				settings.OutputPath = expanded
			}

			engine := composition.EngineFromConfig(cfg, ctx.localLogger())
			progress := newProgressPrinter(cmd.ErrOrStderr())
			snap, err := engine.Render(cmd.Context(), tl, settings, func(s composition.Snapshot) {
				progress.mu.Lock()
				defer progress.mu.Unlock()
				if progress.sampler.ShouldLog(s.ProgressPercent, string(s.Stage)) {
					fmt.Fprintf(progress.out, "%5.1f%%  %s\n", s.ProgressPercent, s.Stage)
				}
			})
			if ctx.jsonOutput() {
				if jsonErr := writeJSON(cmd, snap); jsonErr != nil {
					return jsonErr
				}
				return err
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)
			fmt.Fprintln(out, renderStatusLine("Render", statusOK, string(snap.Status), colorize))
			fmt.Fprintln(out, renderField("Output", snap.OutputPath))
			fmt.Fprintln(out, renderField("Duration", fmt.Sprintf("%.2fs", snap.DurationSeconds)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination file (defaults to the work directory)")
	cmd.Flags().StringVar(&format, "format", "", "Output format override (mp4, webm, mov, av1)")
	return cmd
}
