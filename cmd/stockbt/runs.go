package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"stockbt/internal/api"
)

func newRunsCmd(a *app) *cobra.Command {
	var (
		addr  string
		limit int
	)
	cmd := &cobra.Command{
		Use:   "runs [run-id]",
		Short: "List archived runs, or print one, from a running stockbt server",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = net.JoinHostPort(a.cfg.Server.Host, strconv.Itoa(a.cfg.Server.GRPCPort))
			}
			client, conn, err := api.DialResults(addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if len(args) == 1 {
				run, err := client.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(run.Summary)
			}

			runs, err := client.ListRuns(ctx, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "id\tcreated\tstrategy\treturn %\tbenchmark %\tmax dd %")
			for _, r := range runs {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%.2f\n",
					r.ID, r.CreatedAt.Format(time.RFC3339), r.Strategy,
					r.Summary.Portfolio.TotalReturnPct, r.Summary.Benchmark.TotalReturnPct, r.Summary.Portfolio.MaxDrawdownPct)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "results server address (default server.host:server.grpc_port)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum runs to list (0 = all)")
	return cmd
}
