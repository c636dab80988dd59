package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"stockbt/internal/config"
	"stockbt/internal/metrics"
	"stockbt/internal/store"
	"stockbt/internal/util"
)

const defaultConfigPath = "config/stockbt.yaml"

// app carries state shared by subcommands once the config is loaded.
type app struct {
	configPath string
	cfg        *config.Config
	log        *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "stockbt",
		Short:         "Backtest equity ranking strategies under a macro regime overlay",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "config file (default $STOCKBT_CONFIG or "+defaultConfigPath+")")

	root.AddCommand(
		newRunCmd(a),
		newRegimeCmd(a),
		newFetchBarsCmd(a),
		newFetchMacroCmd(a),
		newFetchAllCmd(a),
		newServeCmd(a),
		newRunsCmd(a),
		newVersionCmd(),
	)
	return root
}

func (a *app) load() error {
	path := a.configPath
	if path == "" {
		path = os.Getenv("STOCKBT_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	a.cfg = cfg
	// Logs go to stderr so command output stays parseable.
	a.log = util.NewLoggerTo(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(a.log)
	a.log.Debug("config loaded", "path", path)
	return nil
}

func (a *app) openSQLite() (*store.SQLiteStore, error) {
	s, err := store.NewSQLiteStore(a.cfg.Storage.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", a.cfg.Storage.SQLitePath, err)
	}
	return s, nil
}

func (a *app) metrics() *metrics.Recorder {
	if a.cfg.Metrics.Enabled != nil && !*a.cfg.Metrics.Enabled {
		return nil
	}
	return metrics.New(prometheus.DefaultRegisterer)
}

func (a *app) universe(override string) (*config.Universe, error) {
	path := a.cfg.Backtest.UniverseFile
	if override != "" {
		path = override
	}
	if path == "" {
		return nil, fmt.Errorf("no universe file: set backtest.universe_file or --universe")
	}
	return config.LoadUniverse(path)
}
