package main

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"stockbt/internal/gather"
	"stockbt/internal/gather/fred"
	"stockbt/internal/gather/us"
	"stockbt/internal/store"
	"stockbt/internal/util"
)

// fetchFlags are shared by the fetch commands.
type fetchFlags struct {
	universe string
	start    string
	end      string
}

func (f *fetchFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.universe, "universe", "u", "", "universe JSON file (overrides backtest.universe_file)")
	cmd.Flags().StringVar(&f.start, "start", "", "first day to fetch (default gather.us_daily.start_date)")
	cmd.Flags().StringVar(&f.end, "end", "", "last day to fetch (default latest finished session)")
}

func (f *fetchFlags) dates(a *app) (start, end time.Time, err error) {
	s := f.start
	if s == "" {
		s = a.cfg.Gather.USDaily.StartDate
	}
	if start, err = util.ParseDay(s); err != nil {
		return start, end, fmt.Errorf("start date: %w", err)
	}
	if f.end != "" {
		if end, err = util.ParseDay(f.end); err != nil {
			return start, end, fmt.Errorf("end date: %w", err)
		}
	}
	return start, end, nil
}

func (a *app) barGatherer(f *fetchFlags) (gather.Gatherer, error) {
	cfg := a.cfg
	if cfg.Alpaca.APIKey == "" || cfg.Alpaca.APISecret == "" {
		return nil, fmt.Errorf("alpaca credentials missing: set APCA_API_KEY_ID and APCA_API_SECRET_KEY")
	}
	u, err := a.universe(f.universe)
	if err != nil {
		return nil, err
	}
	start, end, err := f.dates(a)
	if err != nil {
		return nil, err
	}
	job := cfg.Gather.USDaily
	return us.NewUniverseBarGatherer(
		us.NewAlpacaClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL),
		store.NewParquetStore(cfg.Storage.DataDir),
		us.Options{
			Symbols:         u.All(),
			StartDate:       start,
			EndDate:         end,
			Feed:            cfg.Alpaca.Feed,
			BatchSize:       job.BatchSize,
			MaxWorkers:      job.MaxWorkers,
			RateLimitPerMin: job.RateLimitPerMin,
			StateDir:        filepath.Join(cfg.Storage.DataDir, "us"),
			Calendar:        us.NewCalendarClient(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, ""),
			Logger:          a.log,
		},
	), nil
}

func (a *app) macroGatherer(s store.MacroStore, f *fetchFlags) (gather.Gatherer, error) {
	cfg := a.cfg
	if cfg.FRED.APIKey == "" {
		return nil, fmt.Errorf("FRED API key missing: set FRED_API_KEY")
	}
	start, end, err := f.dates(a)
	if err != nil {
		return nil, err
	}
	return fred.New(s, fred.Options{
		APIKey:          cfg.FRED.APIKey,
		BaseURL:         cfg.FRED.BaseURL,
		StartDate:       start,
		EndDate:         end,
		RateLimitPerMin: cfg.FRED.RateLimitPerMin,
		MaxRetries:      cfg.FRED.MaxRetries,
		HTTPClient:      &http.Client{Timeout: cfg.FRED.Timeout},
		Logger:          a.log,
	}), nil
}

func newFetchBarsCmd(a *app) *cobra.Command {
	f := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch-bars",
		Short: "Fetch daily bars for the universe from Alpaca into the Parquet store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			g, err := a.barGatherer(f)
			if err != nil {
				return err
			}
			return gather.RunAll(cmd.Context(), a.log, g)
		},
	}
	f.register(cmd)
	return cmd
}

func newFetchMacroCmd(a *app) *cobra.Command {
	f := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch-macro",
		Short: "Fetch FRED macro series into the SQLite store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sqlite, err := a.openSQLite()
			if err != nil {
				return err
			}
			defer sqlite.Close()
			g, err := a.macroGatherer(sqlite, f)
			if err != nil {
				return err
			}
			return gather.RunAll(cmd.Context(), a.log, g)
		},
	}
	f.register(cmd)
	return cmd
}

func newFetchAllCmd(a *app) *cobra.Command {
	f := &fetchFlags{}
	cmd := &cobra.Command{
		Use:   "fetch-all",
		Short: "Fetch macro series and then universe bars",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sqlite, err := a.openSQLite()
			if err != nil {
				return err
			}
			defer sqlite.Close()
			macro, err := a.macroGatherer(sqlite, f)
			if err != nil {
				return err
			}
			bars, err := a.barGatherer(f)
			if err != nil {
				return err
			}
			return gather.RunAll(cmd.Context(), a.log, macro, bars)
		},
	}
	f.register(cmd)
	return cmd
}
