// Package engine runs backtests: it prepares price and regime data in
// parallel, walks trading days sequentially through the simulator and
// archives the resulting trace.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"stockbt/internal/domain"
	"stockbt/internal/fundamentals"
	"stockbt/internal/metrics"
	"stockbt/internal/ranking"
	"stockbt/internal/regime"
	"stockbt/internal/report"
	"stockbt/internal/store"
	"stockbt/internal/strategy"
)

// Deps are the collaborators an Engine is wired with. Macro, Fundamentals,
// Runs and Metrics are optional.
type Deps struct {
	Bars         store.BarStore
	Macro        regime.MacroSource
	Fundamentals fundamentals.Provider
	Runs         store.RunStore
	Strategies   *strategy.Registry
	Metrics      *metrics.Recorder
	Logger       *slog.Logger
	// Workers bounds parallel data preparation. Zero means 8.
	Workers int
}

// Engine orchestrates backtest runs.
type Engine struct {
	deps   Deps
	logger *slog.Logger
}

// New creates an Engine.
func New(deps Deps) *Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Strategies == nil {
		deps.Strategies = strategy.Default(strategy.DefaultLowVolParams())
	}
	if deps.Workers <= 0 {
		deps.Workers = 8
	}
	return &Engine{deps: deps, logger: deps.Logger.With("component", "engine")}
}

// Request describes one backtest.
type Request struct {
	Config   RunConfig
	Strategy strategy.Mode
	Market   domain.Market
	Ranking  ranking.Options
	Overlay  regime.Overlay
	// RiskFreeRate is the annual rate used for Sharpe ratios.
	RiskFreeRate float64
	// ConfigJSON is archived verbatim with the run.
	ConfigJSON []byte
}

// Outcome is a completed run.
type Outcome struct {
	ID        string
	CreatedAt time.Time
	Strategy  strategy.Mode
	Result    *Result
	Summary   domain.BacktestSummary
}

// Record converts the outcome into its archived form.
func (o *Outcome) Record(configJSON []byte) store.RunRecord {
	return store.RunRecord{
		ID:         o.ID,
		CreatedAt:  o.CreatedAt,
		Strategy:   string(o.Strategy),
		ConfigJSON: configJSON,
		Summary:    o.Summary,
		Daily:      o.Result.Daily,
		Rebalances: o.Result.Rebalances,
	}
}

// Run executes one backtest end to end and archives it when a RunStore is
// configured.
func (e *Engine) Run(ctx context.Context, req Request) (out *Outcome, err error) {
	started := time.Now()
	defer func() {
		e.deps.Metrics.RecordRun(string(req.Strategy), err, time.Since(started))
	}()

	cfg := req.Config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	strat, err := e.deps.Strategies.Resolve(req.Strategy)
	if err != nil {
		return nil, err
	}
	if req.Market == "" {
		req.Market = domain.MarketUS
	}

	prices, err := LoadPrices(ctx, e.deps.Bars, req.Market, cfg.Symbols(), cfg.HistoryStart(), cfg.End, e.deps.Workers, e.logger)
	if err != nil {
		return nil, err
	}

	opts := []Option{WithLogger(e.deps.Logger), WithMetrics(e.deps.Metrics)}
	if e.deps.Macro != nil {
		hist, err := regime.BuildHistory(ctx, e.deps.Macro, cfg.Start, cfg.End, e.deps.Workers, e.deps.Logger)
		if err != nil {
			return nil, fmt.Errorf("building regime history: %w", err)
		}
		opts = append(opts, WithRegime(hist, req.Overlay))
	}

	rankOpts := req.Ranking
	if rankOpts.Logger == nil {
		rankOpts.Logger = e.deps.Logger
	}
	ranker := ranking.NewRanker(strat, e.deps.Fundamentals, rankOpts)

	res, err := NewSimulator(cfg, ranker, opts...).Run(ctx, prices)
	if err != nil {
		return nil, err
	}

	out = &Outcome{
		ID:        uuid.NewString(),
		CreatedAt: time.Now().UTC(),
		Strategy:  strat.Name(),
		Result:    res,
		Summary: report.Summarize(res.Daily, res.Rebalances, res.Costs, report.Options{
			InitialCapital: cfg.InitialCapital,
			RiskFreeRate:   req.RiskFreeRate,
		}),
	}

	if e.deps.Runs != nil {
		if err := e.deps.Runs.SaveRun(ctx, out.Record(req.ConfigJSON)); err != nil {
			return nil, fmt.Errorf("archiving run %s: %w", out.ID, err)
		}
	}
	e.logger.Info("backtest complete",
		"run_id", out.ID,
		"strategy", string(out.Strategy),
		"total_return_pct", out.Summary.Portfolio.TotalReturnPct,
		"benchmark_return_pct", out.Summary.Benchmark.TotalReturnPct,
		"max_drawdown_pct", out.Summary.Portfolio.MaxDrawdownPct,
		"elapsed", time.Since(started).String(),
	)
	return out, nil
}
