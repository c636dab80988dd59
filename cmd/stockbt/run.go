package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"stockbt/internal/domain"
	"stockbt/internal/engine"
	"stockbt/internal/fundamentals"
	"stockbt/internal/store"
	"stockbt/internal/strategy"
)

func newRunCmd(a *app) *cobra.Command {
	var (
		universePath string
		mode         string
		start, end   string
		noRegime     bool
		noArchive    bool
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a backtest and archive its results",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if mode != "" {
				cfg.Strategy.Mode = string(strategy.ParseMode(mode))
			}
			if start != "" {
				cfg.Backtest.Start = start
			}
			if end != "" {
				cfg.Backtest.End = end
			}

			u, err := a.universe(universePath)
			if err != nil {
				return err
			}
			rc, err := cfg.RunConfig(u)
			if err != nil {
				return err
			}

			sqlite, err := a.openSQLite()
			if err != nil {
				return err
			}
			defer sqlite.Close()

			provider, closeProvider := a.fundamentalsProvider(sqlite)
			defer closeProvider()

			deps := engine.Deps{
				Bars:         store.NewParquetStore(cfg.Storage.DataDir),
				Fundamentals: provider,
				Strategies:   cfg.Strategy.Registry(),
				Metrics:      a.metrics(),
				Logger:       a.log,
				Workers:      cfg.Backtest.Workers,
			}
			if !noRegime {
				deps.Macro = sqlite
			}
			if !noArchive {
				deps.Runs = sqlite
			}

			cfgJSON, err := json.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encoding config: %w", err)
			}
			out, err := engine.New(deps).Run(cmd.Context(), engine.Request{
				Config:       rc,
				Strategy:     strategy.Mode(cfg.Strategy.Mode),
				Market:       domain.MarketUS,
				Ranking:      cfg.Strategy.RankingOptions(),
				Overlay:      cfg.Regime.Overlay(),
				RiskFreeRate: cfg.Backtest.RiskFreeRate,
				ConfigJSON:   cfgJSON,
			})
			if err != nil {
				return err
			}

			path, err := writeResult(cfg.Storage.ResultsDir, out.Record(cfgJSON))
			if err != nil {
				return err
			}
			printSummary(cmd.OutOrStdout(), out, path)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&universePath, "universe", "u", "", "universe JSON file (overrides backtest.universe_file)")
	f.StringVarP(&mode, "strategy", "s", "", "strategy mode: momentum, hybrid or lowvol (low-volatility)")
	f.StringVar(&start, "start", "", "first day YYYY-MM-DD")
	f.StringVar(&end, "end", "", "last day YYYY-MM-DD")
	f.BoolVar(&noRegime, "no-regime", false, "skip regime detection")
	f.BoolVar(&noArchive, "no-archive", false, "do not archive the run in SQLite")
	return cmd
}

// fundamentalsProvider layers the Redis cache and circuit breaker over the
// SQLite fundamentals store.
func (a *app) fundamentalsProvider(s *store.SQLiteStore) (fundamentals.Provider, func()) {
	cfg := a.cfg
	var p fundamentals.Provider = fundamentals.NewBreakerProvider("fundamentals",
		fundamentals.NewStoreProvider(s),
		fundamentals.BreakerSettings{ConsecutiveFailures: cfg.Strategy.Fundamentals.BreakerFailures},
	)
	if cfg.Redis.Addr == "" {
		return p, func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	a.log.Info("fundamentals cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL.String())
	return fundamentals.NewRedisCache(client, p, cfg.Redis.TTL, a.log), func() { client.Close() }
}

func writeResult(dir string, rec store.RunRecord) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating results dir: %w", err)
	}
	data, err := json.MarshalIndent(struct {
		store.RunRecord
		Config json.RawMessage `json:"config"`
	}{rec, rec.ConfigJSON}, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	path := filepath.Join(dir, rec.ID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", path, err)
	}
	return path, nil
}

func printSummary(w io.Writer, out *engine.Outcome, path string) {
	s := out.Summary
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "run\t%s\n", out.ID)
	fmt.Fprintf(tw, "strategy\t%s\n", out.Strategy)
	fmt.Fprintf(tw, "period\t%s .. %s (%d days)\n", s.Start.Format("2006-01-02"), s.End.Format("2006-01-02"), s.TradingDays)
	fmt.Fprintf(tw, "final value\t%.2f\n", s.FinalValue)
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "\tportfolio\tbenchmark\n")
	row := func(name string, p, b float64) { fmt.Fprintf(tw, "%s\t%.2f\t%.2f\n", name, p, b) }
	row("total return %", s.Portfolio.TotalReturnPct, s.Benchmark.TotalReturnPct)
	row("annualized %", s.Portfolio.AnnualizedReturnPct, s.Benchmark.AnnualizedReturnPct)
	row("max drawdown %", s.Portfolio.MaxDrawdownPct, s.Benchmark.MaxDrawdownPct)
	row("volatility %", s.Portfolio.VolatilityPct, s.Benchmark.VolatilityPct)
	row("sharpe", s.Portfolio.SharpeRatio, s.Benchmark.SharpeRatio)
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "excess return %%\t%.2f\n", s.ExcessReturnPct)
	fmt.Fprintf(tw, "rebalances\t%d\n", s.Rebalances)
	fmt.Fprintf(tw, "avg turnover %%\t%.2f\n", s.AvgTurnoverPct)
	fmt.Fprintf(tw, "avg fill rate\t%.2f\n", s.AvgFillRate)
	fmt.Fprintf(tw, "trades\t%d\n", s.Costs.Trades)
	fmt.Fprintf(tw, "slippage cost\t%.2f\n", s.Costs.SlippageCost)
	fmt.Fprintf(tw, "transaction cost\t%.2f\n", s.Costs.TransactionCost)
	if len(s.RegimeStats) > 0 {
		fmt.Fprintln(tw)
		fmt.Fprintf(tw, "regime\tperiods\tdays\tcumulative %%\tavg period %%\n")
		for _, r := range s.RegimeStats {
			fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\n", r.Regime, r.HoldingPeriods, r.TradingDays, r.CumulativeReturnPct, r.AvgPeriodReturnPct)
		}
	}
	fmt.Fprintln(tw)
	fmt.Fprintf(tw, "results\t%s\n", path)
	tw.Flush()
}
