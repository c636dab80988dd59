// Package report derives summary statistics and regime attribution from a
// simulation's daily records and rebalance events.
package report

import (
	"math"

	"stockbt/internal/domain"
)

// TradingDaysPerYear annualizes daily statistics.
const TradingDaysPerYear = 252

// Options parameterize the summary.
type Options struct {
	InitialCapital float64
	// RiskFreeRate is the annual rate subtracted in the Sharpe ratio, e.g.
	// 0.02 for 2%.
	RiskFreeRate float64
}

// Summarize aggregates a run. It is a pure function of its inputs.
func Summarize(daily []domain.DailyRecord, rebalances []domain.RebalanceEvent, costs domain.CostTotals, opts Options) domain.BacktestSummary {
	sum := domain.BacktestSummary{
		InitialCapital:      opts.InitialCapital,
		FinalValue:          opts.InitialCapital,
		TradingDays:         len(daily),
		Costs:               costs,
		AvgSlippagePerTrade: costs.AvgSlippagePerTrade(),
		Rebalances:          len(rebalances),
	}
	if len(daily) > 0 {
		sum.Start = daily[0].Date
		sum.End = daily[len(daily)-1].Date
		sum.FinalValue = daily[len(daily)-1].PortfolioValue
	}

	portfolio := make([]float64, len(daily))
	benchmark := make([]float64, len(daily))
	for i, r := range daily {
		portfolio[i] = r.PortfolioValue
		benchmark[i] = r.BenchmarkValue
	}
	sum.Portfolio = Stats(portfolio, opts.InitialCapital, opts.RiskFreeRate)
	sum.Benchmark = Stats(benchmark, opts.InitialCapital, opts.RiskFreeRate)
	sum.ExcessReturnPct = sum.Portfolio.TotalReturnPct - sum.Benchmark.TotalReturnPct

	if n := len(rebalances); n > 0 {
		var turnover, fill float64
		for _, ev := range rebalances {
			turnover += ev.TurnoverPct
			fill += ev.FillRate
		}
		sum.AvgTurnoverPct = turnover / float64(n)
		sum.AvgFillRate = fill / float64(n)
	}

	sum.RegimePeriods, sum.RegimeStats = RegimeAttribution(daily, rebalances)
	return sum
}

// Stats computes return statistics for an equity curve that started at
// initial. Returns are percentages; the Sharpe ratio is annualized.
func Stats(values []float64, initial, riskFree float64) domain.PerformanceStats {
	var st domain.PerformanceStats
	if len(values) == 0 || initial <= 0 {
		return st
	}
	last := values[len(values)-1]
	growth := last / initial
	st.TotalReturnPct = (growth - 1) * 100

	years := float64(len(values)) / TradingDaysPerYear
	switch {
	case growth <= 0:
		st.AnnualizedReturnPct = -100
	default:
		st.AnnualizedReturnPct = (math.Pow(growth, 1/years) - 1) * 100
	}

	peak := initial
	prev := initial
	returns := make([]float64, 0, len(values))
	for _, v := range values {
		peak = max(peak, v)
		if peak > 0 {
			st.MaxDrawdownPct = max(st.MaxDrawdownPct, (peak-v)/peak*100)
		}
		if prev > 0 {
			returns = append(returns, v/prev-1)
		}
		prev = v
	}

	mean, sd := meanStdev(returns)
	annVol := sd * math.Sqrt(TradingDaysPerYear)
	st.VolatilityPct = annVol * 100
	if annVol > 0 {
		st.SharpeRatio = (mean*TradingDaysPerYear - riskFree) / annVol
	}
	return st
}

// meanStdev returns the mean and sample standard deviation of xs.
func meanStdev(xs []float64) (float64, float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	mean := sum / float64(len(xs))
	if len(xs) < 2 {
		return mean, 0
	}
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return mean, math.Sqrt(ss / float64(len(xs)-1))
}
