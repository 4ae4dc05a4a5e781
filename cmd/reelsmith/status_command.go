package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reelsmith/internal/httpapi"
	"reelsmith/internal/store"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <episode>",
		Short: "Show the assembly state of an episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			episodeID := strings.TrimSpace(args[0])
			resp, err := fetchEpisode(cmd, ctx, episodeID)
			if err != nil {
				return err
			}
			if resp == nil || resp.State == nil {
				return fmt.Errorf("no assembly recorded for episode %s", episodeID)
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			renderEpisodeState(out, resp.State, resp.Running, shouldColorize(out))
			return nil
		},
	}
}

func fetchEpisode(cmd *cobra.Command, ctx *commandContext, episodeID string) (*httpapi.EpisodeResponse, error) {
	client, err := ctx.remoteClient()
	if err != nil {
		return nil, err
	}
	if client != nil {
		return client.Episode(cmd.Context(), episodeID)
	}

	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return nil, err
	}
	defer st.Close()
	state, err := st.LoadState(cmd.Context(), episodeID)
	if err != nil || state == nil {
		return nil, err
	}
	// Nothing runs without the daemon, so a stored running state was interrupted.
	return &httpapi.EpisodeResponse{State: state}, nil
}
