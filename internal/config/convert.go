package config

import (
	"fmt"

	"stockbt/internal/broker"
	"stockbt/internal/engine"
	"stockbt/internal/ranking"
	"stockbt/internal/regime"
	"stockbt/internal/strategy"
	"stockbt/internal/util"
)

// CostModel returns the broker cost model.
func (c Costs) CostModel() broker.CostModel {
	return broker.CostModel{
		Slippage:       broker.SlippageModel(c.Slippage),
		FixedBps:       c.FixedBps,
		Tier:           broker.Tier(c.Tier),
		TransactionBps: c.TransactionBps,
		FeePerTrade:    c.FeePerTrade,
	}
}

// RankingOptions returns the ranker options.
func (s Strategy) RankingOptions() ranking.Options {
	return ranking.Options{
		Thresholds: s.Thresholds,
		Fetch: ranking.FetchPolicy{
			TopK:        s.Fundamentals.TopK,
			Concurrency: s.Fundamentals.Concurrency,
			Timeout:     s.Fundamentals.Timeout,
		},
	}
}

// Registry returns the strategy registry built with the configured low-vol
// parameters.
func (s Strategy) Registry() *strategy.Registry {
	return strategy.Default(s.LowVol)
}

// Overlay returns the regime overlay.
func (r Regime) Overlay() regime.Overlay {
	enabled := r.OverlayEnabled == nil || *r.OverlayEnabled
	return regime.NewOverlay(enabled, r.Policies)
}

// RunConfig converts the backtest section and universe into the immutable
// run description. The universe's benchmark, when set, takes precedence.
func (c *Config) RunConfig(u *Universe) (engine.RunConfig, error) {
	if c.Backtest.Start == "" || c.Backtest.End == "" {
		return engine.RunConfig{}, fmt.Errorf("%w: backtest start and end are required", engine.ErrBadDateRange)
	}
	start, err := util.ParseDay(c.Backtest.Start)
	if err != nil {
		return engine.RunConfig{}, fmt.Errorf("parsing backtest start: %w", err)
	}
	end, err := util.ParseDay(c.Backtest.End)
	if err != nil {
		return engine.RunConfig{}, fmt.Errorf("parsing backtest end: %w", err)
	}

	rc := engine.RunConfig{
		Start:          start,
		End:            end,
		InitialCapital: c.Backtest.InitialCapital,
		Cadence:        engine.Cadence(c.Backtest.Cadence),
		TopN:           c.Backtest.TopN,
		HoldBuffer:     c.Backtest.HoldBuffer,
		Benchmark:      c.Backtest.Benchmark,
		LookbackDays:   c.Backtest.LookbackDays,
		Weights:        c.Strategy.Weights,
		Filters:        c.Strategy.Filters,
		Costs:          c.Costs.CostModel(),
	}
	if u != nil {
		rc.Universe = append([]string(nil), u.Symbols...)
		if u.Benchmark != "" {
			rc.Benchmark = u.Benchmark
		}
	}
	return rc, rc.Validate()
}
