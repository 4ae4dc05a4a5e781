package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelsmith/internal/daemon"
	"reelsmith/internal/daemonctl"
	"reelsmith/internal/episode"
	"reelsmith/internal/services"
)

func newAssembleCommand(ctx *commandContext) *cobra.Command {
	var detach bool
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "assemble <episode>",
		Short: "Generate clips, audio, and the final render for an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID := strings.TrimSpace(args[0])
			if episodeID == "" {
				return fmt.Errorf("episode id is required")
			}
			client, err := ctx.remoteClient()
			if err != nil {
				return err
			}
			if client != nil {
				return assembleRemote(cmd, ctx, client, episodeID, detach, interval)
			}
			if detach {
				return fmt.Errorf("--detach needs a running daemon; start one with `reelsmith serve`")
			}
			return assembleLocal(cmd, ctx, episodeID)
		},
	}
	cmd.Flags().BoolVar(&detach, "detach", false, "Return once the daemon has accepted the episode")
	cmd.Flags().DurationVar(&interval, "poll", 2*time.Second, "Status poll interval when waiting on the daemon")
	return cmd
}

func assembleRemote(cmd *cobra.Command, ctx *commandContext, client *daemonctl.Client, episodeID string, detach bool, interval time.Duration) error {
	resp, err := client.Assemble(cmd.Context(), episodeID)
	if err != nil {
		return err
	}
	if detach {
		if ctx.jsonOutput() {
			return writeJSON(cmd, resp)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Assembly of %s accepted; follow it with `reelsmith status %s`\n", episodeID, episodeID)
		return nil
	}

	progress := newProgressPrinter(cmd.ErrOrStderr())
	state, err := client.WaitForEpisode(cmd.Context(), episodeID, interval, progress.state)
	if err != nil {
		return err
	}
	return finishAssemble(cmd, ctx, state)
}

func assembleLocal(cmd *cobra.Command, ctx *commandContext, episodeID string) error {
	return ctx.withLocal(func(comps daemon.Components) error {
		progress := newProgressPrinter(cmd.ErrOrStderr())
		unsubscribe := comps.Coordinator.Subscribe(func(ev episode.ProgressEvent) {
			if ev.EpisodeID == episodeID {
				progress.event(ev)
			}
		})
		defer unsubscribe()

		_, assembleErr := comps.Coordinator.Assemble(cmd.Context(), episodeID)
		state, err := comps.Coordinator.State(cmd.Context(), episodeID)
		if err != nil || state == nil {
			if assembleErr != nil {
				return assembleErr
			}
			return err
		}
		return finishAssemble(cmd, ctx, state)
	})
}

func finishAssemble(cmd *cobra.Command, ctx *commandContext, state *episode.State) error {
	out := cmd.OutOrStdout()
	if ctx.jsonOutput() {
		if err := writeJSON(cmd, state); err != nil {
			return err
		}
	} else {
		renderEpisodeState(out, state, false, shouldColorize(out))
	}
	if state.Status == episode.StatusFailed {
		return services.New(state.ErrorKind, string(state.FailedPhase),
			fmt.Sprintf("episode %s failed during %s", state.EpisodeID, phaseLabel(state.FailedPhase)), nil)
	}
	return nil
}
