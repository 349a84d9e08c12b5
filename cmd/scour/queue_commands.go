package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the durable queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueShowCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueRemoveCommand(ctx))
	queueCmd.AddCommand(newQueueClearCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue items",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiImpl, cleanup, err := ctx.resolveQueueAPI(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			items, err := apiImpl.List(cmd.Context(), statusFilters)
			if err != nil {
				return err
			}
			if len(items) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
				return nil
			}

			rows := make([][]string, 0, len(items))
			for _, item := range items {
				step := ""
				if item.SessionStep > 0 {
					step = fmt.Sprintf("%d", item.SessionStep)
				}
				rows = append(rows, []string{
					truncate(item.ID, 12),
					item.Status,
					item.Priority,
					truncate(item.TaskRef, 32),
					fmt.Sprintf("%d/%d", item.RetryCount, item.MaxRetries),
					truncate(item.SessionID, 12),
					step,
					item.CreatedAt,
				})
			}
			table := renderTable(
				[]string{"ID", "Status", "Priority", "Task", "Retries", "Session", "Step", "Created"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignRight, alignLeft},
			)
			fmt.Fprintln(cmd.OutOrStdout(), table)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Filter by status (pending, processing, completed, failed)")
	return cmd
}

func newQueueShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <item-id>",
		Short: "Show one queue item in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiImpl, cleanup, err := ctx.resolveQueueAPI(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			item, err := apiImpl.Describe(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if item == nil {
				return fmt.Errorf("queue item %s not found", args[0])
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:          %s\n", item.ID)
			fmt.Fprintf(out, "Owner:       %s\n", item.OwnerID)
			fmt.Fprintf(out, "Task:        %s\n", item.TaskRef)
			fmt.Fprintf(out, "Status:      %s\n", item.Status)
			fmt.Fprintf(out, "Priority:    %s\n", item.Priority)
			fmt.Fprintf(out, "Retries:     %d/%d\n", item.RetryCount, item.MaxRetries)
			if item.SessionID != "" {
				fmt.Fprintf(out, "Session:     %s (step %d)\n", item.SessionID, item.SessionStep)
			}
			if item.RemoteRunID != "" {
				fmt.Fprintf(out, "Remote run:  %s\n", item.RemoteRunID)
			}
			if item.ErrorKind != "" || item.ErrorMessage != "" {
				fmt.Fprintf(out, "Error:       %s: %s\n", item.ErrorKind, item.ErrorMessage)
			}
			fmt.Fprintf(out, "Created:     %s\n", item.CreatedAt)
			if item.ProcessedAt != "" {
				fmt.Fprintf(out, "Processed:   %s\n", item.ProcessedAt)
			}
			if item.CompletedAt != "" {
				fmt.Fprintf(out, "Completed:   %s\n", item.CompletedAt)
			}
			return nil
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry [item-id...]",
		Short: "Requeue failed items (all failed items when no ids given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			apiImpl, cleanup, err := ctx.resolveQueueAPI(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			affected, err := apiImpl.Retry(cmd.Context(), args)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d items\n", affected)
			return nil
		},
	}
}

func newQueueRemoveCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <item-id>",
		Short: "Remove a queue item (removing a pending item cancels it)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			apiImpl, cleanup, err := ctx.resolveQueueAPI(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			removed, err := apiImpl.Remove(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("queue item %s not found", args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Removed 1 item")
			return nil
		},
	}
}

func newQueueClearCommand(ctx *commandContext) *cobra.Command {
	var statusFilters []string
	var force bool

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete queue items by status (everything when no filter given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(statusFilters) == 0 && !force {
				return fmt.Errorf("clearing the whole queue requires --force")
			}

			apiImpl, cleanup, err := ctx.resolveQueueAPI(cmd.Context())
			if err != nil {
				return err
			}
			defer cleanup()

			affected, err := apiImpl.Clear(cmd.Context(), statusFilters)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d items\n", affected)
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&statusFilters, "status", nil, "Statuses to clear (completed, failed, ...)")
	cmd.Flags().BoolVar(&force, "force", false, "Allow clearing every item regardless of status")
	return cmd
}
