package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"reelsmith/internal/generation"
	"reelsmith/internal/provider/catalog"
)

func newProvidersCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured video generation providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			profiles, err := loadProfiles(cmd, ctx)
			if err != nil {
				return err
			}
			if ctx.jsonOutput() {
				return writeJSON(cmd, profiles)
			}
			out := cmd.OutOrStdout()
			if len(profiles) == 0 {
				fmt.Fprintln(out, "No providers configured; add [[providers]] entries to the config file")
				return nil
			}
			rows := make([][]string, 0, len(profiles))
			for _, p := range profiles {
				rows = append(rows, []string{
					p.ID,
					p.Kind,
					string(p.Tier),
					strconv.FormatFloat(p.MaxDurationSeconds, 'f', -1, 64) + "s",
					strconv.Itoa(p.MaxConcurrentJobs),
					strconv.FormatFloat(p.CostPerSecond, 'f', -1, 64),
					string(p.PromptStyle),
					capabilityList(p.Capabilities),
					strings.Join(p.SupportedResolutions, ", "),
				})
			}
			fmt.Fprintln(out, renderTable(
				[]string{"ID", "Kind", "Tier", "Max", "Slots", "Cost/s", "Prompt", "Capabilities", "Resolutions"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
			))
			return nil
		},
	}
}

func loadProfiles(cmd *cobra.Command, ctx *commandContext) ([]generation.Profile, error) {
	client, err := ctx.remoteClient()
	if err != nil {
		return nil, err
	}
	if client != nil {
		return client.Providers(cmd.Context())
	}
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return nil, err
	}
	registry, err := catalog.Build(cfg, http.DefaultClient)
	if err != nil {
		return nil, err
	}
	return registry.Profiles(), nil
}

func capabilityList(c generation.Capabilities) string {
	var names []string
	if c.Audio {
		names = append(names, "audio")
	}
	if c.LipSync {
		names = append(names, "lip-sync")
	}
	if c.MotionBrush {
		names = append(names, "motion-brush")
	}
	if c.Interpolation {
		names = append(names, "interpolation")
	}
	if len(names) == 0 {
		return "-"
	}
	return strings.Join(names, ", ")
}
