package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"scour/internal/api"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var owner string
	var limit int

	cmd := &cobra.Command{
		Use:   "search <keyword> [keyword...]",
		Short: "Submit a search to the daemon",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner == "" {
				return fmt.Errorf("--owner is required")
			}

			client, err := ctx.apiClient()
			if err != nil {
				return err
			}

			req := api.SearchRequest{OwnerID: owner, Keywords: args, Limit: limit}
			var resp api.SearchResponse
			if err := client.post("/api/search", nil, req, &resp); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if resp.Queued {
				fmt.Fprintf(out, "Search queued: item %s at position %d (about %d min)\n",
					resp.QueuedItemID, resp.QueuePosition, resp.EstimatedWait)
				fmt.Fprintf(out, "Poll with: scour poll %s --owner %s\n", resp.QueuedItemID, owner)
				return nil
			}

			fmt.Fprintf(out, "Session %s: %d results (%d requested, %d discovered)\n",
				resp.SessionID, resp.Returned, resp.Requested, resp.RawDiscovered)
			fmt.Fprintf(out, "Credits: %d reserved, %d charged, %d refunded\n",
				resp.Credits.Reserved, resp.Credits.Actual, resp.Credits.Refund)

			rows := make([][]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				url, _ := item["url"].(string)
				if url == "" {
					url, _ = item["videoUrl"].(string)
				}
				username, _ := item["username"].(string)
				rows = append(rows, []string{truncate(url, 60), username})
			}
			if len(rows) > 0 {
				table := renderTable(
					[]string{"URL", "Owner"},
					rows,
					[]columnAlignment{alignLeft, alignLeft},
				)
				fmt.Fprintln(out, table)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&owner, "owner", "", "Owner account id for the search")
	cmd.Flags().IntVar(&limit, "limit", 30, "Requested result count")
	return cmd
}
