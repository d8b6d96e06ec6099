package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/easyso/easyso/internal/usage"
)

func usageCmd(opts *options, stdout, stderr io.Writer) *cobra.Command {
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show token usage and estimated cost",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, _, err := openStore(opts, stderr)
			if err != nil {
				return err
			}
			defer store.Close()

			us, err := usage.NewStore(store.DB())
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			end := time.Now().Add(time.Minute)
			start := end.Add(-since - time.Minute)

			total, err := us.Summary(ctx, start, end)
			if err != nil {
				return err
			}
			byModel, err := us.SummaryByModel(ctx, start, end)
			if err != nil {
				return err
			}
			byThread, err := us.SummaryByThread(ctx, start, end)
			if err != nil {
				return err
			}

			if opts.outputFmt == "json" {
				return writeJSON(stdout, map[string]any{
					"since":     since.String(),
					"total":     total,
					"by_model":  byModel,
					"by_thread": byThread,
				})
			}

			fmt.Fprintf(stdout, "Usage over the last %s: %d turns, %d input / %d output tokens, $%.4f\n",
				since, total.TotalRecords, total.TotalInputTokens, total.TotalOutputTokens, total.TotalCostUSD)
			if total.TotalRecords == 0 {
				return nil
			}
			fmt.Fprintln(stdout)
			writeSummaryTable(stdout, "MODEL", byModel)
			fmt.Fprintln(stdout)
			writeSummaryTable(stdout, "THREAD", byThread)
			return nil
		},
	}
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "how far back to aggregate")
	return cmd
}

func writeSummaryTable(w io.Writer, heading string, rows map[string]*usage.Summary) {
	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "%s\tTURNS\tINPUT\tOUTPUT\tCOST\n", heading)
	for _, k := range keys {
		s := rows[k]
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t$%.4f\n", k, s.TotalRecords, s.TotalInputTokens, s.TotalOutputTokens, s.TotalCostUSD)
	}
	tw.Flush()
}
