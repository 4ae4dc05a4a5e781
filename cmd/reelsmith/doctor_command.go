package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reelsmith/internal/daemonctl"
	"reelsmith/internal/deps"
	"reelsmith/internal/preflight"
)

type doctorReport struct {
	DaemonRunning bool               `json:"daemon_running"`
	Checks        []preflight.Result `json:"checks"`
	Dependencies  []deps.Status      `json:"dependencies"`
}

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check directories, binaries, and provider credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			running, err := daemonctl.Running(cfg)
			if err != nil {
				return err
			}
			report := doctorReport{
				DaemonRunning: running,
				Checks:        preflight.RunAll(cmd.Context(), cfg),
				Dependencies:  preflight.CheckSystemDeps(cfg),
			}
			problems := len(preflight.Failed(report.Checks))
			for _, dep := range report.Dependencies {
				if !dep.Available && !dep.Optional {
					problems++
				}
			}

			if ctx.jsonOutput() {
				if err := writeJSON(cmd, report); err != nil {
					return err
				}
			} else {
				renderDoctor(cmd, report)
			}
			if problems > 0 {
				return fmt.Errorf("doctor found %d blocking problem(s)", problems)
			}
			return nil
		},
	}
}

func renderDoctor(cmd *cobra.Command, report doctorReport) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)

	for _, line := range renderSectionHeader("Daemon", colorize) {
		fmt.Fprintln(out, line)
	}
	if report.DaemonRunning {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "running", colorize))
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusInfo, "not running", colorize))
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Checks", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, check := range report.Checks {
		kind := statusOK
		if !check.Passed {
			kind = statusWarn
			if check.Required {
				kind = statusError
			}
		}
		fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
	}

	fmt.Fprintln(out)
	for _, line := range renderSectionHeader("Binaries", colorize) {
		fmt.Fprintln(out, line)
	}
	for _, dep := range report.Dependencies {
		kind := statusOK
		detail := dep.Command
		if !dep.Available {
			kind = statusError
			if dep.Optional {
				kind = statusWarn
			}
			detail = dep.Detail
		}
		fmt.Fprintln(out, renderStatusLine(dep.Name, kind, detail, colorize))
	}
}
