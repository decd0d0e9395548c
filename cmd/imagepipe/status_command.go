package main

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"imagepipe/internal/api"
	"imagepipe/internal/apiclient"
	"imagepipe/internal/config"
	"imagepipe/internal/preflight"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon, dependency, and directory status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			switch {
			case err == nil:
			case apiclient.IsUnavailable(err):
				status = localStatus(cmd.Context(), cfg)
			default:
				return err
			}
			if jsonOutput {
				return writeJSON(cmd, status)
			}
			out := cmd.OutOrStdout()
			renderStatus(out, status, client.BaseURL(), isTerminal(out))
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the status snapshot as JSON")
	return cmd
}

// localStatus evaluates dependencies and preflight checks in-process when no
// daemon is reachable.
func localStatus(ctx context.Context, cfg *config.Config) *api.DaemonStatus {
	return &api.DaemonStatus{
		Dependencies: api.FromDependencies(preflight.CheckSystemDeps(ctx, cfg)),
		Preflight:    api.FromPreflight(preflight.RunAll(ctx, cfg)),
	}
}

func renderStatus(out io.Writer, status *api.DaemonStatus, server string, colorize bool) {
	fmt.Fprintln(out, renderSectionHeader("Daemon", colorize))
	if status.Running {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusOK, "running at "+server, colorize))
		fmt.Fprintln(out, renderStatusLine("PID", statusInfo, strconv.Itoa(status.PID), colorize))
		if status.StartedAt != "" {
			fmt.Fprintln(out, renderStatusLine("Started", statusInfo, status.StartedAt, colorize))
		}
		fmt.Fprintln(out, renderStatusLine("Subscribers", statusInfo, strconv.Itoa(status.Subscribers), colorize))
		fmt.Fprintln(out, renderStatusLine("Inbox watcher", statusInfo, yesNo(status.InboxActive), colorize))
		if status.LogPath != "" {
			fmt.Fprintln(out, renderStatusLine("Log", statusInfo, status.LogPath, colorize))
		}
		if status.HistoryDBPath != "" {
			fmt.Fprintln(out, renderStatusLine("History", statusInfo, status.HistoryDBPath, colorize))
		}
	} else {
		fmt.Fprintln(out, renderStatusLine("Daemon", statusWarn, "not reachable at "+server, colorize))
	}

	if len(status.Dependencies) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderSectionHeader("Dependencies", colorize))
		for _, dep := range status.Dependencies {
			kind, msg := statusOK, dep.Command
			if !dep.Available {
				kind = statusError
				if dep.Optional {
					kind = statusWarn
				}
				msg = dep.Detail
			}
			fmt.Fprintln(out, renderStatusLine(dep.Name, kind, msg, colorize))
		}
	}

	if len(status.Preflight) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderSectionHeader("Preflight", colorize))
		for _, check := range status.Preflight {
			kind := statusOK
			if !check.Passed {
				kind = statusError
			}
			fmt.Fprintln(out, renderStatusLine(check.Name, kind, check.Detail, colorize))
		}
	}

	if len(status.StageHealth) > 0 {
		fmt.Fprintln(out)
		fmt.Fprintln(out, renderSectionHeader("Stages", colorize))
		for _, h := range status.StageHealth {
			kind := statusOK
			if !h.Ready {
				kind = statusError
			}
			fmt.Fprintln(out, renderStatusLine(h.Name, kind, h.Detail, colorize))
		}
	}

	if len(status.Directories) > 0 {
		fmt.Fprintln(out)
		rows := make([][]string, 0, len(status.Directories))
		for _, dir := range status.Directories {
			oldest := dir.OldestAt
			if oldest == "" {
				oldest = "-"
			}
			rows = append(rows, []string{dir.Path, strconv.Itoa(dir.Entries), humanize.IBytes(uint64(max(dir.Bytes, 0))), oldest})
		}
		fmt.Fprintln(out, renderTable("Working directories",
			[]string{"Path", "Entries", "Size", "Oldest"},
			rows,
			[]columnAlignment{alignLeft, alignRight, alignRight, alignLeft},
		))
	}
}
