package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"

	"scour/internal/api"
)

func newPollCommand(ctx *commandContext) *cobra.Command {
	var owner string

	cmd := &cobra.Command{
		Use:   "poll <item-id>",
		Short: "Poll a queued search for completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return fmt.Errorf("--owner is required")
			}

			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			query := url.Values{}
			query.Set("owner", owner)
			var resp api.PollResponse
			if err := client.get("/api/items/"+args[0], query, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch resp.Status {
			case "pending":
				fmt.Fprintf(out, "Pending: position %d, about %d min (retries so far: %d)\n",
					resp.Position, resp.EstimatedWait, resp.RetryCount)
			case "processing":
				if resp.SessionID != "" && resp.TotalStages > 0 {
					fmt.Fprintf(out, "Processing: session %s across %d stages\n", resp.SessionID, resp.TotalStages)
				} else {
					fmt.Fprintln(out, "Processing")
				}
			case "failed":
				if resp.SessionPartial {
					fmt.Fprintf(out, "Failed: session %s (partial results available)\n", resp.SessionID)
				} else {
					fmt.Fprintf(out, "Failed: %s: %s\n", resp.ErrorKind, resp.ErrorMessage)
				}
			case "completed":
				if resp.SessionComplete {
					fmt.Fprintf(out, "Completed: session %s across %d stages\n", resp.SessionID, resp.TotalStages)
				} else {
					fmt.Fprintln(out, "Completed")
				}
				if len(resp.Result) > 0 {
					fmt.Fprintln(out, string(resp.Result))
				}
			default:
				fmt.Fprintf(out, "Status: %s\n", resp.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner account id that submitted the item")
	return cmd
}
