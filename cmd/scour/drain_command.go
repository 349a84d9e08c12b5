package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scour/internal/api"
)

func newDrainCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Trigger one queue drain batch on the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			var resp api.DrainResponse
			if err := client.post("/api/drain", nil, nil, &resp); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"Drain complete: %d selected, %d processed, %d requeued, %d failed, %d skipped, %d reaped (%s)\n",
				resp.Selected, resp.Processed, resp.Requeued, resp.Failed, resp.Skipped, resp.Reaped, resp.Duration)
			return nil
		},
	}
}
