package main

import (
	"fmt"
	"net"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"stockbt/internal/api"
)

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve archived runs over gRPC and HTTP, with Prometheus metrics",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			sqlite, err := a.openSQLite()
			if err != nil {
				return err
			}
			defer sqlite.Close()

			sc := api.ServerConfig{
				HTTPAddr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.HTTPPort)),
				GRPCAddr: net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.GRPCPort)),
				Gatherer: prometheus.DefaultGatherer,
			}
			if cfg.Metrics.Enabled == nil || *cfg.Metrics.Enabled {
				sc.MetricsPath = cfg.Metrics.Path
			}
			if err := api.NewServer(sc, sqlite, a.log).ListenAndServe(cmd.Context()); err != nil {
				return fmt.Errorf("serving: %w", err)
			}
			return nil
		},
	}
}
