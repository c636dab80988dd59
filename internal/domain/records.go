package domain

import "time"

// PillarScores is the per-pillar breakdown of a candidate's composite score,
// each on a 0-100 scale.
type PillarScores struct {
	Valuation float64 `json:"valuation"`
	Quality   float64 `json:"quality"`
	Technical float64 `json:"technical"`
	Risk      float64 `json:"risk"`
}

// PillarWeights weights the four pillars into a composite score.
type PillarWeights struct {
	Valuation float64 `json:"valuation" yaml:"valuation"`
	Quality   float64 `json:"quality" yaml:"quality"`
	Technical float64 `json:"technical" yaml:"technical"`
	Risk      float64 `json:"risk" yaml:"risk"`
}

// Sum returns the total of all weights.
func (w PillarWeights) Sum() float64 {
	return w.Valuation + w.Quality + w.Technical + w.Risk
}

// IsZero reports whether no weight is set.
func (w PillarWeights) IsZero() bool { return w.Sum() == 0 }

// Normalize rescales the weights to sum to 1. Negative weights are treated as
// zero; an all-zero set is returned unchanged.
func (w PillarWeights) Normalize() PillarWeights {
	w.Valuation = max(w.Valuation, 0)
	w.Quality = max(w.Quality, 0)
	w.Technical = max(w.Technical, 0)
	w.Risk = max(w.Risk, 0)
	s := w.Sum()
	if s == 0 {
		return w
	}
	return PillarWeights{
		Valuation: w.Valuation / s,
		Quality:   w.Quality / s,
		Technical: w.Technical / s,
		Risk:      w.Risk / s,
	}
}

// Composite returns the weighted sum of the pillar scores.
func (w PillarWeights) Composite(p PillarScores) float64 {
	return w.Valuation*p.Valuation + w.Quality*p.Quality + w.Technical*p.Technical + w.Risk*p.Risk
}

// RankedCandidate is one entry of a ranking computed for a single date.
type RankedCandidate struct {
	Symbol  string       `json:"symbol"`
	Rank    int          `json:"rank"`
	Score   float64      `json:"score"`
	Pillars PillarScores `json:"pillars"`
}

// RebalanceEvent records one rebalance. Written once, never mutated.
type RebalanceEvent struct {
	Date                time.Time   `json:"date"`
	Sold                []string    `json:"sold"`
	Bought              []string    `json:"bought"`
	Kept                []string    `json:"kept"`
	WrittenOff          []string    `json:"written_off,omitempty"`
	TurnoverPct         float64     `json:"turnover_pct"`
	CandidatesEvaluated int         `json:"candidates_evaluated"`
	CandidatesRanked    int         `json:"candidates_ranked"`
	TradableCandidates  int         `json:"tradable_candidates"`
	TargetSlots         int         `json:"target_slots"`
	FillRate            float64     `json:"fill_rate"`
	Regime              RegimeLabel `json:"regime"`
	InvestableFraction  float64     `json:"investable_fraction"`
	Diagnostics         []string    `json:"diagnostics,omitempty"`
}

// DailyRecord is the end-of-day mark-to-market snapshot. Appended once per
// trading day.
type DailyRecord struct {
	Date           time.Time   `json:"date"`
	PortfolioValue float64     `json:"portfolio_value"`
	Cash           float64     `json:"cash"`
	BenchmarkValue float64     `json:"benchmark_value"`
	DailyReturnPct float64     `json:"daily_return_pct"`
	DrawdownPct    float64     `json:"drawdown_pct"`
	Positions      int         `json:"positions"`
	Regime         RegimeLabel `json:"regime,omitempty"`
}

// PerformanceStats are the return statistics of one equity curve.
type PerformanceStats struct {
	TotalReturnPct      float64 `json:"total_return_pct"`
	AnnualizedReturnPct float64 `json:"annualized_return_pct"`
	MaxDrawdownPct      float64 `json:"max_drawdown_pct"`
	VolatilityPct       float64 `json:"volatility_pct"`
	SharpeRatio         float64 `json:"sharpe_ratio"`
}

// RegimePeriod is a contiguous run of holding periods under one regime.
type RegimePeriod struct {
	Regime    RegimeLabel `json:"regime"`
	Start     time.Time   `json:"start"`
	End       time.Time   `json:"end"`
	Holdings  int         `json:"holding_periods"`
	ReturnPct float64     `json:"return_pct"`
}

// RegimeStats aggregates every holding period spent in one regime.
type RegimeStats struct {
	Regime              RegimeLabel `json:"regime"`
	HoldingPeriods      int         `json:"holding_periods"`
	TradingDays         int         `json:"trading_days"`
	CumulativeReturnPct float64     `json:"cumulative_return_pct"`
	AvgPeriodReturnPct  float64     `json:"avg_period_return_pct"`
}

// BacktestSummary is derived from the DailyRecord and RebalanceEvent
// sequences at the end of a run.
type BacktestSummary struct {
	Start               time.Time        `json:"start"`
	End                 time.Time        `json:"end"`
	TradingDays         int              `json:"trading_days"`
	InitialCapital      float64          `json:"initial_capital"`
	FinalValue          float64          `json:"final_value"`
	Portfolio           PerformanceStats `json:"portfolio"`
	Benchmark           PerformanceStats `json:"benchmark"`
	ExcessReturnPct     float64          `json:"excess_return_pct"`
	Costs               CostTotals       `json:"costs"`
	AvgSlippagePerTrade float64          `json:"avg_slippage_per_trade"`
	Rebalances          int              `json:"rebalances"`
	AvgTurnoverPct      float64          `json:"avg_turnover_pct"`
	AvgFillRate         float64          `json:"avg_fill_rate"`
	RegimePeriods       []RegimePeriod   `json:"regime_periods,omitempty"`
	RegimeStats         []RegimeStats    `json:"regime_stats,omitempty"`
}
