package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"imagepipe/internal/notifications"
)

func newTestNotifyCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "test-notify",
		Short: "Send a test notification to the configured ntfy topic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if cfg.Notify.NtfyTopic == "" {
				fmt.Fprintln(out, "ntfy topic not configured; set notifications.ntfy_topic or IMAGEPIPE_NTFY_TOPIC")
				return nil
			}
			if err := notifications.NewService(cfg).TestNotification(cmd.Context()); err != nil {
				return fmt.Errorf("send test notification: %w", err)
			}
			fmt.Fprintf(out, "Test notification sent to %s\n", cfg.Notify.NtfyTopic)
			return nil
		},
	}
}
