package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"imagepipe/internal/services/captioner"
)

func newCaptionsCommand(ctx *commandContext) *cobra.Command {
	var params captioner.Params
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "captions <image>...",
		Short: "Rank candidate captions for images",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			resp, err := client.Captions(cmd.Context(), args, params)
			if err != nil {
				return wrapClientError(client, err)
			}
			if jsonOutput {
				return writeJSON(cmd, resp)
			}
			out := cmd.OutOrStdout()
			if len(resp.Results) == 0 {
				fmt.Fprintln(out, "No captions returned")
				return nil
			}
			rows := make([][]string, len(resp.Results))
			for i, r := range resp.Results {
				rows[i] = []string{strconv.Itoa(i + 1), strconv.FormatFloat(r.Similarity, 'f', 4, 64), r.Caption}
			}
			fmt.Fprintln(out, renderTable("", []string{"#", "Similarity", "Caption"}, rows,
				[]columnAlignment{alignRight, alignRight, alignLeft}))
			return nil
		},
	}

	cmd.Flags().IntVar(&params.BatchSize, "batch-size", 0, "Annotations scored per model invocation (server default when 0)")
	cmd.Flags().IntVar(&params.Samples, "annotations", 0, "Number of annotations to sample (server default when 0)")
	cmd.Flags().IntVar(&params.Results, "results", 0, "Number of captions to keep (server default when 0)")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the raw response as JSON")
	return cmd
}
