package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newHistoryCmd(a *app) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent benchmarks stored in Redis",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			client, store, err := a.redisStore(ctx)
			if err != nil {
				return err
			}
			if client == nil {
				return errors.New("history requires redis.enabled")
			}
			defer client.Close()

			ids, err := store.ListBenchmarks(ctx, limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tSTATUS\tTASKS\tSUCCESS\tCREATED")
			for _, id := range ids {
				b, err := store.GetBenchmark(ctx, id)
				if err != nil {
					// expired since it was indexed
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.0f%%\t%s\n",
					b.ID, b.Name, b.Status, len(b.Tasks),
					b.Metrics.SuccessRate*100, b.CreatedAt.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of benchmarks to list")
	return cmd
}
