// Package metrics records backtest run metrics using Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder collects run, rebalance and data-fetch metrics. A nil *Recorder
// is valid and records nothing.
type Recorder struct {
	runs           *prometheus.CounterVec
	runDuration    *prometheus.HistogramVec
	tradingDays    prometheus.Counter
	rebalances     *prometheus.CounterVec
	turnover       prometheus.Histogram
	fillRate       prometheus.Histogram
	trades         *prometheus.CounterVec
	skips          *prometheus.CounterVec
	fundamentals   *prometheus.CounterVec
	portfolioValue prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.DefaultRegisterer to
// expose them on the default /metrics handler.
func New(reg prometheus.Registerer) *Recorder {
	f := promauto.With(reg)
	return &Recorder{
		runs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockbt_runs_total",
				Help: "Backtest runs by strategy and outcome",
			},
			[]string{"strategy", "outcome"},
		),
		runDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockbt_run_duration_seconds",
				Help:    "Wall-clock duration of backtest runs",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
			},
			[]string{"strategy"},
		),
		tradingDays: f.NewCounter(prometheus.CounterOpts{
			Name: "stockbt_trading_days_total",
			Help: "Trading days simulated",
		}),
		rebalances: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockbt_rebalances_total",
				Help: "Rebalances by regime label",
			},
			[]string{"regime"},
		),
		turnover: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockbt_rebalance_turnover_pct",
			Help:    "Turnover percentage per rebalance",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}),
		fillRate: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "stockbt_rebalance_fill_rate",
			Help:    "Fraction of target slots filled per rebalance",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		trades: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockbt_trades_total",
				Help: "Simulated trades by side",
			},
			[]string{"side"},
		),
		skips: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockbt_candidate_skips_total",
				Help: "Candidates skipped or dropped during ranking, by reason",
			},
			[]string{"reason"},
		),
		fundamentals: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockbt_fundamentals_fetches_total",
				Help: "Fundamentals lookups by status",
			},
			[]string{"status"},
		),
		portfolioValue: f.NewGauge(prometheus.GaugeOpts{
			Name: "stockbt_portfolio_value",
			Help: "Mark-to-market value on the last simulated day",
		}),
	}
}

// RecordRun records a finished run.
func (r *Recorder) RecordRun(strategy string, err error, elapsed time.Duration) {
	if r == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	r.runs.WithLabelValues(strategy, outcome).Inc()
	r.runDuration.WithLabelValues(strategy).Observe(elapsed.Seconds())
}

// RecordDay records one simulated trading day.
func (r *Recorder) RecordDay(value float64) {
	if r == nil {
		return
	}
	r.tradingDays.Inc()
	r.portfolioValue.Set(value)
}

// RecordRebalance records one rebalance event.
func (r *Recorder) RecordRebalance(regime string, turnoverPct, fillRate float64) {
	if r == nil {
		return
	}
	if regime == "" {
		regime = "none"
	}
	r.rebalances.WithLabelValues(regime).Inc()
	r.turnover.Observe(turnoverPct)
	r.fillRate.Observe(fillRate)
}

// RecordTrade records an executed order.
func (r *Recorder) RecordTrade(side string) {
	if r == nil {
		return
	}
	r.trades.WithLabelValues(side).Inc()
}

// RecordSkips adds skip or drop tallies keyed by reason.
func (r *Recorder) RecordSkips(tally map[string]int) {
	if r == nil {
		return
	}
	for reason, n := range tally {
		r.skips.WithLabelValues(reason).Add(float64(n))
	}
}

// RecordFundamentals adds fundamentals fetch outcomes.
func (r *Recorder) RecordFundamentals(status string, n int) {
	if r == nil || n == 0 {
		return
	}
	r.fundamentals.WithLabelValues(status).Add(float64(n))
}
