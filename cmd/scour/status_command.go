package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"scour/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon and queue status",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			client, err := ctx.apiClient()
			if err == nil {
				adapter := &queueHTTPAdapter{client: client}
				if stats, statErr := adapter.Stats(cmd.Context()); statErr == nil {
					fmt.Fprintln(out, "scourd: running")
					printStats(cmd, stats)
					return nil
				}
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			counts, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}
			stats := make(map[string]int, len(counts))
			for status, count := range counts {
				stats[string(status)] = count
			}
			fmt.Fprintln(out, "scourd: not running (reading store directly)")
			printStats(cmd, stats)
			return nil
		},
	}
}

func printStats(cmd *cobra.Command, stats map[string]int) {
	rows := make([][]string, 0, len(stats))
	total := 0
	for _, status := range queue.AllStatuses() {
		count := stats[string(status)]
		total += count
		rows = append(rows, []string{string(status), fmt.Sprintf("%d", count)})
	}
	// Surface any statuses the daemon knows that this build does not.
	var extras []string
	for name := range stats {
		if _, ok := queue.ParseStatus(name); !ok {
			extras = append(extras, name)
		}
	}
	sort.Strings(extras)
	for _, name := range extras {
		total += stats[name]
		rows = append(rows, []string{name, fmt.Sprintf("%d", stats[name])})
	}
	rows = append(rows, []string{"total", fmt.Sprintf("%d", total)})

	table := renderTable(
		[]string{"Status", "Items"},
		rows,
		[]columnAlignment{alignLeft, alignRight},
	)
	fmt.Fprintln(cmd.OutOrStdout(), table)
}
