package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"imagepipe/internal/history"
)

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "history [batch-id]",
		Short: "List recent batches or show one batch in detail",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				batch, err := client.Batch(cmd.Context(), args[0])
				if err != nil {
					return wrapClientError(client, err)
				}
				if jsonOutput {
					return writeJSON(cmd, batch)
				}
				printBatch(out, batch)
				return nil
			}

			batches, err := client.Batches(cmd.Context(), limit)
			if err != nil {
				return wrapClientError(client, err)
			}
			if jsonOutput {
				return writeJSON(cmd, batches)
			}
			if len(batches) == 0 {
				fmt.Fprintln(out, "No batches recorded")
				return nil
			}
			rows := make([][]string, len(batches))
			for i, b := range batches {
				rows[i] = []string{
					b.ID,
					formatTimestamp(b.StartedAt),
					formatDuration(b.FinishedAt.Sub(b.StartedAt)),
					strconv.Itoa(b.Succeeded),
					strconv.Itoa(b.Failed),
				}
			}
			fmt.Fprintln(out, renderTable("", []string{"Batch", "Started", "Took", "OK", "Failed"}, rows,
				[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight}))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of batches to list")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print JSON instead of a table")
	return cmd
}

func printBatch(out io.Writer, batch *history.Batch) {
	fmt.Fprintf(out, "Batch %s\n", batch.ID)
	fmt.Fprintf(out, "Started:  %s\n", formatTimestamp(batch.StartedAt))
	fmt.Fprintf(out, "Finished: %s\n", formatTimestamp(batch.FinishedAt))
	fmt.Fprintf(out, "Result:   %d succeeded, %d failed\n", batch.Succeeded, batch.Failed)
	if len(batch.Items) == 0 {
		return
	}
	rows := make([][]string, len(batch.Items))
	for i, item := range batch.Items {
		detail := item.RemotePath
		if item.ErrorMessage != "" {
			detail = item.ErrorMessage
			if item.ErrorKind != "" {
				detail = "[" + item.ErrorKind + "] " + detail
			}
		}
		rows[i] = []string{
			strconv.Itoa(item.Position + 1),
			item.FileName,
			string(item.Status),
			detail,
			formatDuration(time.Duration(item.DurationMs) * time.Millisecond),
		}
	}
	fmt.Fprintln(out, renderTable("", []string{"#", "File", "Status", "Destination / Error", "Took"}, rows,
		[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight}))
}

func formatTimestamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
