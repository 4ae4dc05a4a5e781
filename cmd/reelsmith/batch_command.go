package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"reelsmith/internal/batch"
	"reelsmith/internal/config"
	"reelsmith/internal/daemon"
	"reelsmith/internal/daemonctl"
	"reelsmith/internal/generation"
	"reelsmith/internal/httpapi"
	"reelsmith/internal/services"
	"reelsmith/internal/store"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Run and inspect clip generation batches",
	}
	batchCmd.AddCommand(newBatchRunCommand(ctx))
	batchCmd.AddCommand(newBatchShowCommand(ctx))
	batchCmd.AddCommand(newBatchListCommand(ctx))
	batchCmd.AddCommand(newBatchCancelCommand(ctx))
	return batchCmd
}

func newBatchRunCommand(ctx *commandContext) *cobra.Command {
	var episodeID string
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "run <requests.json>",
		Short: "Generate clips for a file of generation requests",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := loadBatchFile(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(episodeID) != "" {
				body.EpisodeID = strings.TrimSpace(episodeID)
			}

			client, err := ctx.remoteClient()
			if err != nil {
				return err
			}
			var snap batch.Snapshot
			if client != nil {
				snap, err = runBatchRemote(cmd, client, body, interval)
			} else {
				err = ctx.withLocal(func(comps daemon.Components) error {
					var runErr error
					snap, runErr = comps.Batches.RunBatch(cmd.Context(), body.EpisodeID, body.Requests)
					return runErr
				})
			}
			if err != nil {
				return err
			}
			return writeBatch(cmd, ctx, snap)
		},
	}
	cmd.Flags().StringVar(&episodeID, "episode", "", "Episode id recorded on the batch")
	cmd.Flags().DurationVar(&interval, "poll", 2*time.Second, "Status poll interval when waiting on the daemon")
	return cmd
}

// loadBatchFile accepts either a bare array of requests or an object with
// episode_id and requests.
func loadBatchFile(path string) (httpapi.BatchRequest, error) {
	expanded, err := config.ExpandPath(path)
	if err != nil {
		return httpapi.BatchRequest{}, err
	}
	data, err := os.ReadFile(expanded)
	if err != nil {
		return httpapi.BatchRequest{}, fmt.Errorf("read requests: %w", err)
	}
	var body httpapi.BatchRequest
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &body.Requests)
	} else {
		err = json.Unmarshal(trimmed, &body)
	}
	if err != nil {
		return httpapi.BatchRequest{}, services.Wrap(services.ErrValidation, "batch", "decode", expanded, err)
	}
	if len(body.Requests) == 0 {
		return httpapi.BatchRequest{}, services.Wrap(services.ErrValidation, "batch", "decode", expanded+" contains no requests", nil)
	}
	return body, nil
}

func runBatchRemote(cmd *cobra.Command, client *daemonctl.Client, body httpapi.BatchRequest, interval time.Duration) (batch.Snapshot, error) {
	snap, err := client.StartBatch(cmd.Context(), body.EpisodeID, body.Requests)
	if err != nil {
		return batch.Snapshot{}, err
	}
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for snap.Status == batch.StatusRunning {
		select {
		case <-cmd.Context().Done():
			return snap, cmd.Context().Err()
		case <-ticker.C:
		}
		latest, err := client.Batch(cmd.Context(), snap.ID)
		if err != nil {
			return snap, err
		}
		if latest != nil {
			snap = *latest
		}
	}
	return snap, nil
}

func newBatchShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <batch-id>",
		Short: "Show a batch and its jobs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := strings.TrimSpace(args[0])
			client, err := ctx.remoteClient()
			if err != nil {
				return err
			}
			var snap *batch.Snapshot
			if client != nil {
				snap, err = client.Batch(cmd.Context(), batchID)
			} else {
				err = withStore(ctx, func(st *store.Store) error {
					var lookupErr error
					snap, lookupErr = st.Batch(cmd.Context(), batchID)
					return lookupErr
				})
			}
			if err != nil {
				return err
			}
			if snap == nil {
				return fmt.Errorf("batch %s not found", batchID)
			}
			return writeBatch(cmd, ctx, *snap)
		},
	}
}

func newBatchListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List recorded batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			var snaps []batch.Snapshot
			err := withStore(ctx, func(st *store.Store) error {
				var listErr error
				snaps, listErr = st.Batches(cmd.Context())
				return listErr
			})
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, snaps)
			}
			out := cmd.OutOrStdout()
			if len(snaps) == 0 {
				fmt.Fprintln(out, "No batches recorded")
				return nil
			}
			rows := make([][]string, 0, len(snaps))
			for _, snap := range snaps {
				rows = append(rows, []string{
					snap.ID,
					dashIfEmpty(snap.EpisodeID),
					string(snap.Status),
					progressSummary(snap.Progress),
					snap.UpdatedAt.Local().Format(time.DateTime),
				})
			}
			fmt.Fprintln(out, renderTable([]string{"Batch", "Episode", "Status", "Progress", "Updated"}, rows, nil))
			return nil
		},
	}
}

func newBatchCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <batch-id>",
		Short: "Cancel a batch running in the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			batchID := strings.TrimSpace(args[0])
			client, err := ctx.remoteClient()
			if err != nil {
				return err
			}
			if client == nil {
				return fmt.Errorf("no reelsmith daemon is running; only daemon batches can be cancelled")
			}
			cancelled, err := client.CancelBatch(cmd.Context(), batchID)
			if err != nil {
				return err
			}
			if !cancelled {
				return fmt.Errorf("batch %s is not running", batchID)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cancellation requested for batch %s\n", batchID)
			return nil
		},
	}
}

func withStore(ctx *commandContext, fn func(*store.Store) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	st, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

func writeBatch(cmd *cobra.Command, ctx *commandContext, snap batch.Snapshot) error {
	if ctx.jsonOutput() {
		return writeJSON(cmd, snap)
	}
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Batch "+snap.ID, colorize) {
		fmt.Fprintln(out, line)
	}
	kind := statusOK
	switch {
	case snap.Status == batch.StatusRunning:
		kind = statusInfo
	case snap.Status == batch.StatusCancelled || snap.Progress.Failed > 0:
		kind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Status", kind, string(snap.Status), colorize))
	if snap.EpisodeID != "" {
		fmt.Fprintln(out, renderField("Episode", snap.EpisodeID))
	}
	fmt.Fprintln(out, renderField("Progress", progressSummary(snap.Progress)))
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderJobTable(snap.Jobs))
	return nil
}

func renderJobTable(jobs []*generation.Job) string {
	rows := make([][]string, 0, len(jobs))
	for _, job := range jobs {
		if job == nil {
			continue
		}
		result := job.ResultAssetURL
		if job.Status == generation.StatusFailed {
			result = strings.TrimSpace(string(job.ErrorKind) + ": " + job.ErrorMessage)
		}
		cached := ""
		if job.Cached {
			cached = "cached"
		}
		rows = append(rows, []string{
			dashIfEmpty(job.Request.ShotID),
			dashIfEmpty(job.ProviderID),
			string(job.Status),
			strconv.Itoa(len(job.Attempts)),
			strconv.Itoa(job.QualityScore),
			cached,
			dashIfEmpty(result),
		})
	}
	return renderTable(
		[]string{"Shot", "Provider", "Status", "Attempts", "Quality", "", "Result"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	)
}

func progressSummary(p batch.Progress) string {
	return fmt.Sprintf("%d/%d completed, %d failed, %d cancelled, %d in flight",
		p.Completed, p.Total, p.Failed, p.Cancelled, p.InFlight)
}

func dashIfEmpty(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
