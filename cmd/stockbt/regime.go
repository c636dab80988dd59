package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"stockbt/internal/regime"
	"stockbt/internal/util"
)

func newRegimeCmd(a *app) *cobra.Command {
	var (
		start, end string
		asJSON     bool
	)
	cmd := &cobra.Command{
		Use:   "regime",
		Short: "Print the daily macro regime history for a date range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if start == "" {
				start = a.cfg.Backtest.Start
			}
			if end == "" {
				end = a.cfg.Backtest.End
			}
			from, err := util.ParseDay(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			to, err := util.ParseDay(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}

			sqlite, err := a.openSQLite()
			if err != nil {
				return err
			}
			defer sqlite.Close()

			hist, err := regime.BuildHistory(cmd.Context(), sqlite, from, to, a.cfg.Backtest.Workers, a.log)
			if err != nil {
				return err
			}

			results := hist.Results()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "date\tregime\tcomposite\tconfidence\tgaps")
			for _, r := range results {
				fmt.Fprintf(tw, "%s\t%s\t%.1f\t%.2f\t%s\n",
					r.AsOf.Format(util.DateLayout), r.Label, r.CompositeScore, r.Confidence, strings.Join(r.DataGaps, ","))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "first day YYYY-MM-DD (default backtest.start)")
	cmd.Flags().StringVar(&end, "end", "", "last day YYYY-MM-DD (default backtest.end)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}
