package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"imagepipe/internal/api"
)

func newUploadCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "upload <image>...",
		Short: "Send images through the enhance and transfer pipeline",
		Long: "Upload one or more images as a single batch. The command waits for\n" +
			"the batch to finish and reports each file's outcome. It exits non-zero\n" +
			"when any file failed.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Upload(cmd.Context(), args)
			if err != nil {
				return wrapClientError(client, err)
			}
			if jsonOutput {
				if err := writeJSON(cmd, resp); err != nil {
					return err
				}
			} else {
				printUploadResult(cmd.OutOrStdout(), resp)
			}
			if resp.Failed > 0 {
				return fmt.Errorf("%d of %d images failed", resp.Failed, len(resp.Results))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw batch response as JSON")
	return cmd
}

func printUploadResult(out io.Writer, resp *api.UploadResponse) {
	rows := make([][]string, 0, len(resp.Results))
	for _, item := range resp.Results {
		detail := item.RemotePath
		if item.Error != "" {
			detail = item.Error
			if item.FailedStage != "" {
				detail = item.FailedStage + ": " + detail
			}
		}
		rows = append(rows, []string{
			item.FileName,
			item.Status,
			detail,
			formatDuration(time.Duration(item.DurationMs) * time.Millisecond),
		})
	}
	fmt.Fprintln(out, renderTable("Batch "+resp.BatchID,
		[]string{"File", "Status", "Destination / Error", "Took"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight},
	))
	fmt.Fprintf(out, "%d succeeded, %d failed\n", resp.Succeeded, resp.Failed)
}

func formatDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "-"
	case d < time.Second:
		return d.Round(time.Millisecond).String()
	default:
		return d.Round(100 * time.Millisecond).String()
	}
}
