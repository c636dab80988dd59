package engine

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockbt/internal/broker"
	"stockbt/internal/domain"
	"stockbt/internal/ranking"
	"stockbt/internal/regime"
	"stockbt/internal/store"
	"stockbt/internal/strategy"
)

// start is the first simulated day; warmup days of history precede it.
var start = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

const warmup = 100

// series builds a daily series from warmup days before start through
// start+days-1, with close = price(i) where i is the simulation day index
// (negative during warmup).
func series(t *testing.T, sym string, days int, price func(i int) float64) *domain.PriceSeries {
	t.Helper()
	var bars []domain.Bar
	for i := -warmup; i < days; i++ {
		px := price(i)
		if px <= 0 {
			continue
		}
		bars = append(bars, domain.Bar{Symbol: sym, Timestamp: start.AddDate(0, 0, i), Close: px})
	}
	ps, err := domain.NewPriceSeries(sym, bars)
	require.NoError(t, err)
	return ps
}

func flat(px float64) func(int) float64 { return func(int) float64 { return px } }

func baseConfig(days int) RunConfig {
	return RunConfig{
		Start:          start,
		End:            start.AddDate(0, 0, days-1),
		InitialCapital: 100_000,
		Cadence:        CadenceQuarterly,
		TopN:           2,
		HoldBuffer:     0,
		Benchmark:      "BENCH",
		Universe:       []string{"A", "B", "C", "BENCH"},
		LookbackDays:   warmup,
	}
}

func momentumRanker() *ranking.Ranker {
	return ranking.NewRanker(strategy.Momentum{}, nil, ranking.Options{})
}

// scenarioPrices: everything flat except A, which doubles from day 90, and
// B, which slides 10% between days 30 and 89.
func scenarioPrices(t *testing.T, days int) map[string]*domain.PriceSeries {
	return map[string]*domain.PriceSeries{
		"A": series(t, "A", days, func(i int) float64 {
			if i >= 90 {
				return 200
			}
			return 100
		}),
		"B": series(t, "B", days, func(i int) float64 {
			switch {
			case i < 30:
				return 100
			case i < 90:
				return 100 - 10*float64(i-30)/59
			default:
				return 90
			}
		}),
		"C":     series(t, "C", days, flat(100)),
		"BENCH": series(t, "BENCH", days, flat(100)),
	}
}

func TestQuarterlyScenario(t *testing.T) {
	const days = 180
	sim := NewSimulator(baseConfig(days), momentumRanker())

	res, err := sim.Run(context.Background(), scenarioPrices(t, days))
	require.NoError(t, err)

	require.Len(t, res.Daily, days)
	require.Len(t, res.Rebalances, 2)

	first := res.Rebalances[0]
	assert.Equal(t, start, first.Date)
	assert.Equal(t, []string{"A", "B"}, first.Bought, "ties break alphabetically")
	assert.Empty(t, first.Sold)
	assert.Equal(t, 2, first.TargetSlots)
	assert.Equal(t, 1.0, first.FillRate)
	assert.InDelta(t, 100.0, first.TurnoverPct, 1e-9)

	second := res.Rebalances[1]
	assert.Equal(t, start.AddDate(0, 0, 90), second.Date)
	assert.Equal(t, []string{"A"}, second.Kept)
	assert.Equal(t, []string{"B"}, second.Sold)
	assert.Equal(t, []string{"C"}, second.Bought)

	// 500 A doubled, B sold at 90 and rotated into 450 C at 100.
	last := res.Daily[days-1]
	assert.InDelta(t, 145_000.0, last.PortfolioValue, 1e-6)
	assert.InDelta(t, 100_000.0, last.BenchmarkValue, 1e-9)
	assert.Equal(t, 2, last.Positions)
	assert.Equal(t, 4, res.Costs.Trades)
	assert.Zero(t, res.Costs.SlippageCost)
}

func TestRunIsDeterministic(t *testing.T) {
	const days = 200
	cfg := baseConfig(days)
	cfg.Cadence = CadenceMonthly
	cfg.Costs = broker.CostModel{Slippage: broker.SlippageTiered, Tier: broker.TierNormal, TransactionBps: 5, FeePerTrade: 1}

	run := func() []byte {
		res, err := NewSimulator(cfg, momentumRanker()).Run(context.Background(), scenarioPrices(t, days))
		require.NoError(t, err)
		b, err := json.Marshal(struct {
			Daily      []domain.DailyRecord
			Rebalances []domain.RebalanceEvent
		}{res.Daily, res.Rebalances})
		require.NoError(t, err)
		return b
	}
	assert.Equal(t, string(run()), string(run()))
}

func TestSymbolWithoutHistoryIsNeverBought(t *testing.T) {
	const days = 120
	prices := scenarioPrices(t, days)
	empty, err := domain.NewPriceSeries("Z", nil)
	require.NoError(t, err)
	prices["Z"] = empty

	cfg := baseConfig(days)
	cfg.Cadence = CadenceMonthly
	cfg.TopN = 4
	cfg.Universe = append(cfg.Universe, "Z", "NOFILE")

	res, err := NewSimulator(cfg, momentumRanker()).Run(context.Background(), prices)
	require.NoError(t, err)

	for _, ev := range res.Rebalances {
		assert.NotContains(t, ev.Bought, "Z")
		assert.NotContains(t, ev.Bought, "NOFILE")
		assert.Equal(t, 3, ev.TargetSlots, "only three tradable candidates")
		assert.Contains(t, ev.Diagnostics, "skipped 2: no_history")
	}
}

func TestUntradableHoldingMarkedToZeroAndWrittenOff(t *testing.T) {
	const days = 120
	prices := scenarioPrices(t, days)
	// B is delisted after day 40.
	prices["B"] = series(t, "B", days, func(i int) float64 {
		if i > 40 {
			return 0
		}
		return 100
	})

	cfg := baseConfig(days)
	res, err := NewSimulator(cfg, momentumRanker()).Run(context.Background(), prices)
	require.NoError(t, err)

	assert.InDelta(t, 100_000.0, res.Daily[40].PortfolioValue, 1e-6)
	assert.InDelta(t, 50_000.0, res.Daily[41].PortfolioValue, 1e-6, "delisted holding is worth zero")

	second := res.Rebalances[1]
	assert.Equal(t, []string{"B"}, second.WrittenOff)
	assert.Empty(t, second.Sold)
	assert.NotContains(t, second.Bought, "B")
	for _, rec := range res.Daily {
		assert.GreaterOrEqual(t, rec.PortfolioValue, 0.0)
	}
}

func TestHoldBufferKeepsNearMisses(t *testing.T) {
	const days = 120
	prices := map[string]*domain.PriceSeries{
		// A leads until day 60, after which C overtakes it.
		"A":     series(t, "A", days, func(i int) float64 { return 100 + 0.1*float64(min(i, 60)+warmup) }),
		"B":     series(t, "B", days, flat(100)),
		"C":     series(t, "C", days, func(i int) float64 { return 100 + 0.5*float64(max(i-30, 0)) }),
		"BENCH": series(t, "BENCH", days, flat(100)),
	}

	cfg := baseConfig(days)
	cfg.TopN = 1
	cfg.HoldBuffer = 1
	res, err := NewSimulator(cfg, momentumRanker()).Run(context.Background(), prices)
	require.NoError(t, err)
	require.Len(t, res.Rebalances, 2)

	assert.Equal(t, []string{"A"}, res.Rebalances[0].Bought)
	second := res.Rebalances[1]
	assert.Equal(t, []string{"A"}, second.Kept, "rank 2 is inside top-1 plus buffer 1")
	assert.Empty(t, second.Sold)
	assert.Empty(t, second.Bought, "kept holding fills the only slot")
	assert.Zero(t, second.TurnoverPct)
}

func TestTurnoverAndValueBounds(t *testing.T) {
	const days = 250
	wave := func(phase int) func(int) float64 {
		return func(i int) float64 {
			return 100 + 20*float64((i+phase)%40)/40 - float64((i+phase)%7)
		}
	}
	prices := map[string]*domain.PriceSeries{
		"A":     series(t, "A", days, wave(0)),
		"B":     series(t, "B", days, wave(13)),
		"C":     series(t, "C", days, wave(27)),
		"BENCH": series(t, "BENCH", days, wave(5)),
	}
	cfg := baseConfig(days)
	cfg.Cadence = CadenceMonthly
	cfg.TopN = 1
	cfg.Costs = broker.CostModel{Slippage: broker.SlippageTiered, Tier: broker.TierAggressive, TransactionBps: 10, FeePerTrade: 5}

	res, err := NewSimulator(cfg, momentumRanker()).Run(context.Background(), prices)
	require.NoError(t, err)

	for _, ev := range res.Rebalances {
		assert.GreaterOrEqual(t, ev.TurnoverPct, 0.0)
		assert.LessOrEqual(t, ev.TurnoverPct, 100.0)
		if ev.TurnoverPct == 0 {
			assert.Empty(t, ev.Sold)
			assert.Empty(t, ev.Bought)
		}
	}
	for _, rec := range res.Daily {
		assert.GreaterOrEqual(t, rec.PortfolioValue, 0.0)
		assert.GreaterOrEqual(t, rec.Cash, 0.0)
		assert.GreaterOrEqual(t, rec.DrawdownPct, 0.0)
	}
	assert.Greater(t, res.Costs.TransactionCost, 0.0)
}

type fixedRegime domain.RegimeLabel

func (f fixedRegime) Lookup(d time.Time) domain.RegimeResult {
	return domain.RegimeResult{Label: domain.RegimeLabel(f), AsOf: d}
}

func TestCrisisOverlayLimitsInvestedCash(t *testing.T) {
	const days = 30
	cfg := baseConfig(days)
	sim := NewSimulator(cfg, momentumRanker(), WithRegime(fixedRegime(domain.RegimeCrisis), regime.NewOverlay(true, nil)))

	res, err := sim.Run(context.Background(), scenarioPrices(t, days))
	require.NoError(t, err)

	ev := res.Rebalances[0]
	assert.Equal(t, domain.RegimeCrisis, ev.Regime)
	assert.Equal(t, 0.4, ev.InvestableFraction)
	assert.InDelta(t, 60_000.0, res.Daily[0].Cash, 1e-6)
	assert.Equal(t, domain.RegimeCrisis, res.Daily[5].Regime)
}

func TestRunFatalErrors(t *testing.T) {
	ctx := context.Background()
	prices := scenarioPrices(t, 30)

	cfg := baseConfig(30)
	cfg.End = cfg.Start.AddDate(0, 0, -1)
	_, err := NewSimulator(cfg, momentumRanker()).Run(ctx, prices)
	assert.ErrorIs(t, err, ErrBadDateRange)

	cfg = baseConfig(30)
	cfg.Universe = []string{"BENCH"}
	_, err = NewSimulator(cfg, momentumRanker()).Run(ctx, prices)
	assert.ErrorIs(t, err, ErrEmptyUniverse)

	cfg = baseConfig(30)
	cfg.Benchmark = "SPY"
	_, err = NewSimulator(cfg, momentumRanker()).Run(ctx, prices)
	assert.ErrorIs(t, err, ErrBenchmarkUnavailable)

	cfg = baseConfig(30)
	cfg.Start = start.AddDate(1, 0, 0)
	cfg.End = start.AddDate(1, 1, 0)
	_, err = NewSimulator(cfg, momentumRanker()).Run(ctx, prices)
	assert.ErrorIs(t, err, ErrNoTradingDays)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = NewSimulator(baseConfig(30), momentumRanker()).Run(cancelled, prices)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestCadenceMonths(t *testing.T) {
	assert.Equal(t, 1, CadenceMonthly.Months())
	assert.Equal(t, 3, CadenceQuarterly.Months())
	assert.Equal(t, 6, CadenceSemiannual.Months())
	assert.Equal(t, 12, CadenceAnnual.Months())
	assert.Zero(t, Cadence("weekly").Months())
}

func TestRiskManagerBudget(t *testing.T) {
	rm := NewRiskManager(broker.CostModel{})
	assert.Equal(t, 25.0, rm.SlotBudget(100, 0.5, 2))
	assert.Equal(t, 100.0, rm.SlotBudget(100, 3, 1), "fraction clamps to 1")
	assert.Zero(t, rm.SlotBudget(100, 1, 0))
	assert.Equal(t, int64(3), rm.SizeOrder(30, 99))
}

func TestEngineRunArchivesOutcome(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	bars := store.NewParquetStore(filepath.Join(dir, "data"))
	runs, err := store.NewSQLiteStore(filepath.Join(dir, "stockbt.db"))
	require.NoError(t, err)
	t.Cleanup(func() { runs.Close() })

	const days = 120
	for _, ps := range scenarioPrices(t, days) {
		var rows []domain.Bar
		for _, d := range ps.Dates() {
			px, _ := ps.CloseOn(d)
			rows = append(rows, domain.Bar{Symbol: ps.Symbol, Timestamp: d, Open: px, High: px, Low: px, Close: px})
		}
		require.NoError(t, bars.WriteBars(ctx, rows))
	}

	eng := New(Deps{Bars: bars, Runs: runs, Workers: 2})
	out, err := eng.Run(ctx, Request{
		Config:     baseConfig(days),
		Strategy:   strategy.ModeMomentum,
		ConfigJSON: []byte(`{"top_n":2}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, out.ID)
	assert.Equal(t, days, out.Summary.TradingDays)
	assert.InDelta(t, 45.0, out.Summary.Portfolio.TotalReturnPct, 1e-6)

	got, err := runs.GetRun(ctx, out.ID)
	require.NoError(t, err)
	assert.Equal(t, "momentum", got.Strategy)
	assert.Len(t, got.Daily, days)
	assert.Len(t, got.Rebalances, 2)

	_, err = eng.Run(ctx, Request{Config: baseConfig(days), Strategy: "contrarian"})
	assert.Error(t, err)
}
