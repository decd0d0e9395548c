package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"imagepipe/internal/progress"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow live progress events from the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			streamCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			printer := newProgressPrinter(out, isTerminal(out) && !jsonOutput)
			connected := func() {
				fmt.Fprintf(cmd.ErrOrStderr(), "Connected to %s\n", client.BaseURL())
			}
			handle := printer.Print
			if jsonOutput {
				handle = func(evt progress.Event) { _ = writeJSON(cmd, evt) }
			}

			err = client.Events(streamCtx, connected, handle)
			printer.Finish()
			if err != nil && !errors.Is(err, context.Canceled) {
				return wrapClientError(client, err)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print each event as JSON")
	return cmd
}

// progressPrinter renders events either as a rewritten status line on a
// terminal or as one timestamped line per event otherwise.
type progressPrinter struct {
	out     io.Writer
	live    bool
	pending bool
	now     func() time.Time
}

func newProgressPrinter(out io.Writer, live bool) *progressPrinter {
	return &progressPrinter{out: out, live: live, now: time.Now}
}

func (p *progressPrinter) Print(evt progress.Event) {
	line := fmt.Sprintf("%-32s %-12s %s", evt.FileName, evt.Operation, progressBar(evt.Progress, 20))
	if !p.live {
		fmt.Fprintf(p.out, "%s %s\n", p.now().Format("15:04:05"), line)
		return
	}
	fmt.Fprint(p.out, ansiClear+line)
	p.pending = true
	if evt.Progress >= 1 {
		fmt.Fprintln(p.out)
		p.pending = false
	}
}

// Finish terminates a partially drawn live line.
func (p *progressPrinter) Finish() {
	if p.pending {
		fmt.Fprintln(p.out)
		p.pending = false
	}
}

func progressBar(fraction float64, width int) string {
	if fraction < 0 {
		fraction = 0
	}
	if fraction > 1 {
		fraction = 1
	}
	filled := int(fraction * float64(width))
	bar := make([]byte, width)
	for i := range bar {
		if i < filled {
			bar[i] = '#'
		} else {
			bar[i] = '.'
		}
	}
	return fmt.Sprintf("[%s] %5.1f%%", bar, fraction*100)
}
