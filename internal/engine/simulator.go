package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"stockbt/internal/broker"
	"stockbt/internal/domain"
	"stockbt/internal/metrics"
	"stockbt/internal/ranking"
	"stockbt/internal/regime"
	"stockbt/internal/util"
)

// RegimeLookup resolves the regime in force on a date.
type RegimeLookup interface {
	Lookup(d time.Time) domain.RegimeResult
}

// Result is the trace of one simulation.
type Result struct {
	Daily      []domain.DailyRecord
	Rebalances []domain.RebalanceEvent
	Costs      domain.CostTotals
	// Positions are the holdings after the last trading day.
	Positions []domain.Position
}

// Simulator walks trading days sequentially, rebalancing on cadence and
// marking the portfolio to market every day. A Simulator holds no run
// state; each Run owns its own portfolio.
type Simulator struct {
	cfg     RunConfig
	ranker  *ranking.Ranker
	regimes RegimeLookup
	overlay regime.Overlay
	risk    *RiskManager
	logger  *slog.Logger
	metrics *metrics.Recorder
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithRegime attaches a regime lookup and the overlay applied to it.
func WithRegime(l RegimeLookup, o regime.Overlay) Option {
	return func(s *Simulator) {
		s.regimes = l
		s.overlay = o
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Simulator) { s.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *metrics.Recorder) Option {
	return func(s *Simulator) { s.metrics = m }
}

// NewSimulator creates a Simulator for cfg ranking with r.
func NewSimulator(cfg RunConfig, r *ranking.Ranker, opts ...Option) *Simulator {
	s := &Simulator{
		cfg:    cfg,
		ranker: r,
		risk:   NewRiskManager(cfg.Costs),
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = s.logger.With("component", "simulator")
	return s
}

// Run simulates the configured date range over prices, which must hold a
// series for the benchmark. Trading days are the benchmark's bar dates.
// Only misconfiguration and cancellation are errors; missing data for
// individual symbols degrades and is recorded in the rebalance events.
func (s *Simulator) Run(ctx context.Context, prices map[string]*domain.PriceSeries) (*Result, error) {
	if err := s.cfg.Validate(); err != nil {
		return nil, err
	}
	bench := prices[s.cfg.Benchmark]
	if bench.Len() == 0 {
		return nil, fmt.Errorf("%w: no bars for %s", ErrBenchmarkUnavailable, s.cfg.Benchmark)
	}
	days := util.NewTradingCalendar(bench.Dates()).Between(s.cfg.Start, s.cfg.End)
	if len(days) == 0 {
		return nil, fmt.Errorf("%w: %s to %s", ErrNoTradingDays,
			s.cfg.Start.Format(util.DateLayout), s.cfg.End.Format(util.DateLayout))
	}
	benchBase, ok := bench.CloseOn(days[0])
	if !ok {
		return nil, fmt.Errorf("%w: no close for %s on %s", ErrBenchmarkUnavailable,
			s.cfg.Benchmark, days[0].Format(util.DateLayout))
	}

	s.logger.Info("simulation starting",
		"strategy", string(s.ranker.Strategy().Name()),
		"start", days[0].Format(util.DateLayout),
		"end", days[len(days)-1].Format(util.DateLayout),
		"trading_days", len(days),
		"candidates", len(s.cfg.Candidates()),
	)

	br := broker.NewSimulatorBroker(s.cfg.InitialCapital, s.cfg.Costs)
	res := &Result{Daily: make([]domain.DailyRecord, 0, len(days))}
	cadence := s.cfg.Cadence.Months()
	initial := s.cfg.InitialCapital
	prev, peak, benchValue := initial, initial, initial
	var lastRebalance time.Time

	for i, d := range days {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("simulation aborted on %s: %w", d.Format(util.DateLayout), err)
		}

		var reg *domain.RegimeResult
		if s.regimes != nil {
			r := s.regimes.Lookup(d)
			reg = &r
		}

		if i == 0 || util.WholeMonthsBetween(lastRebalance, d) >= cadence {
			pre := markToMarket(br, prices, d)
			ev, err := s.rebalance(ctx, br, prices, d, pre, reg)
			if err != nil {
				return nil, err
			}
			res.Rebalances = append(res.Rebalances, ev)
			lastRebalance = d
		}

		value := markToMarket(br, prices, d)
		if px, ok := bench.CloseOn(d); ok {
			benchValue = initial * px / benchBase
		}
		peak = max(peak, value)

		rec := domain.DailyRecord{
			Date:           d,
			PortfolioValue: value,
			Cash:           br.Cash(),
			BenchmarkValue: benchValue,
			Positions:      len(br.Positions()),
		}
		if prev > 0 {
			rec.DailyReturnPct = (value/prev - 1) * 100
		}
		if peak > 0 {
			rec.DrawdownPct = (peak - value) / peak * 100
		}
		if reg != nil {
			rec.Regime = reg.Label
		}
		res.Daily = append(res.Daily, rec)
		s.metrics.RecordDay(value)
		prev = value
	}

	res.Costs = br.Costs()
	res.Positions = br.Positions()
	last := res.Daily[len(res.Daily)-1]
	s.logger.Info("simulation finished",
		"final_value", last.PortfolioValue,
		"benchmark_value", last.BenchmarkValue,
		"rebalances", len(res.Rebalances),
		"trades", res.Costs.Trades,
	)
	return res, nil
}

// rebalance liquidates holdings outside the hold zone or without a price,
// re-ranks the universe and buys into the open slots.
func (s *Simulator) rebalance(ctx context.Context, br *broker.SimulatorBroker, prices map[string]*domain.PriceSeries, d time.Time, preValue float64, reg *domain.RegimeResult) (domain.RebalanceEvent, error) {
	policy := regime.Identity
	ev := domain.RebalanceEvent{Date: d}
	if reg != nil {
		ev.Regime = reg.Label
		policy = s.overlay.PolicyFor(reg.Label)
	}
	ev.InvestableFraction = policy.InvestableFraction

	weights := s.cfg.Weights
	if weights.IsZero() {
		weights = s.ranker.Strategy().DefaultWeights()
	}
	filters := s.cfg.Filters
	filters.MinQualityScore = policy.ApplyMinQuality(filters.MinQualityScore)

	ranked := s.ranker.Rank(ctx, ranking.Input{
		AsOf:       d,
		Candidates: s.cfg.Candidates(),
		Series:     prices,
		Weights:    policy.ApplyWeights(weights),
		Filters:    filters,
	})
	if err := ctx.Err(); err != nil {
		return ev, fmt.Errorf("ranking on %s: %w", d.Format(util.DateLayout), err)
	}
	ev.CandidatesEvaluated = ranked.Evaluated
	ev.CandidatesRanked = len(ranked.Ranked)

	rankOf := make(map[string]int, len(ranked.Ranked))
	var tradable []string
	for _, c := range ranked.Ranked {
		rankOf[c.Symbol] = c.Rank
		if _, ok := prices[c.Symbol].CloseOn(d); ok {
			tradable = append(tradable, c.Symbol)
		}
	}
	ev.TradableCandidates = len(tradable)

	holdZone := s.cfg.TopN + s.cfg.HoldBuffer
	held := make(map[string]bool)
	var soldNotional, boughtNotional float64

	for _, pos := range br.Positions() {
		price, ok := prices[pos.Symbol].CloseOn(d)
		if !ok {
			br.WriteOff(pos.Symbol, d)
			ev.WrittenOff = append(ev.WrittenOff, pos.Symbol)
			ev.Diagnostics = append(ev.Diagnostics, fmt.Sprintf("wrote off %s: no price", pos.Symbol))
			continue
		}
		if rank, ok := rankOf[pos.Symbol]; ok && rank <= holdZone {
			ev.Kept = append(ev.Kept, pos.Symbol)
			held[pos.Symbol] = true
			continue
		}
		fill, err := br.SubmitOrder(ctx, domain.Order{
			Symbol: pos.Symbol,
			Side:   domain.OrderSideSell,
			Qty:    pos.Shares,
			Price:  price,
			Date:   d,
			Reason: "outside hold zone",
		})
		if err != nil {
			return ev, fmt.Errorf("selling %s on %s: %w", pos.Symbol, d.Format(util.DateLayout), err)
		}
		soldNotional += fill.Notional
		ev.Sold = append(ev.Sold, pos.Symbol)
		s.metrics.RecordTrade(string(domain.OrderSideSell))
	}

	ev.TargetSlots = min(s.cfg.TopN, len(tradable))
	open := ev.TargetSlots - len(ev.Kept)
	var buys []string
	for _, sym := range tradable {
		if len(buys) >= open {
			break
		}
		if !held[sym] {
			buys = append(buys, sym)
		}
	}

	budget := s.risk.SlotBudget(br.Cash(), policy.InvestableFraction, len(buys))
	for _, sym := range buys {
		price, _ := prices[sym].CloseOn(d)
		qty := s.risk.SizeOrder(price, budget)
		if qty == 0 {
			ev.Diagnostics = append(ev.Diagnostics, fmt.Sprintf("budget %.2f too small for %s @ %.2f", budget, sym, price))
			continue
		}
		fill, err := br.SubmitOrder(ctx, domain.Order{
			Symbol: sym,
			Side:   domain.OrderSideBuy,
			Qty:    qty,
			Price:  price,
			Date:   d,
			Reason: fmt.Sprintf("rank %d", rankOf[sym]),
		})
		if err != nil {
			ev.Diagnostics = append(ev.Diagnostics, fmt.Sprintf("buy %s rejected: %v", sym, err))
			continue
		}
		boughtNotional += fill.Notional
		ev.Bought = append(ev.Bought, sym)
		s.metrics.RecordTrade(string(domain.OrderSideBuy))
	}

	filled := len(ev.Kept) + len(ev.Bought)
	if ev.TargetSlots > 0 {
		ev.FillRate = min(float64(filled)/float64(ev.TargetSlots), 1)
	}
	if preValue > 0 {
		ev.TurnoverPct = min(max(soldNotional, boughtNotional)/preValue*100, 100)
	}
	ev.Diagnostics = append(ev.Diagnostics, diagnose(ev, s.cfg.TopN, filled, ranked)...)

	s.metrics.RecordRebalance(string(ev.Regime), ev.TurnoverPct, ev.FillRate)
	s.metrics.RecordSkips(ranked.Skipped)
	s.metrics.RecordSkips(ranked.Dropped)
	s.metrics.RecordFundamentals(string(ranking.FetchOK), ranked.Fetch.OK)
	s.metrics.RecordFundamentals(string(ranking.FetchMissing), ranked.Fetch.Missing)
	s.metrics.RecordFundamentals(string(ranking.FetchTimedOut), ranked.Fetch.TimedOut)
	s.metrics.RecordFundamentals(string(ranking.FetchFailed), ranked.Fetch.Failed)

	s.logger.Info("rebalanced",
		"date", d.Format(util.DateLayout),
		"regime", string(ev.Regime),
		"sold", len(ev.Sold),
		"bought", len(ev.Bought),
		"kept", len(ev.Kept),
		"turnover_pct", ev.TurnoverPct,
		"fill_rate", ev.FillRate,
	)
	return ev, nil
}

// diagnose explains shortfalls and data degradation at a rebalance.
func diagnose(ev domain.RebalanceEvent, topN, filled int, ranked ranking.Result) []string {
	var out []string
	if ev.TargetSlots < topN {
		out = append(out, fmt.Sprintf("only %d tradable candidates for %d slots", ev.TradableCandidates, topN))
	}
	if filled < ev.TargetSlots {
		out = append(out, fmt.Sprintf("filled %d of %d target slots", filled, ev.TargetSlots))
	}
	out = append(out, tally("skipped", ranked.Skipped)...)
	out = append(out, tally("dropped", ranked.Dropped)...)
	if f := ranked.Fetch; f.TimedOut+f.Failed > 0 {
		out = append(out, fmt.Sprintf("fundamentals degraded: %d timed out, %d failed of %d", f.TimedOut, f.Failed, f.Requested))
	}
	return out
}

func tally(verb string, counts map[string]int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("%s %d: %s", verb, counts[k], k))
	}
	return out
}

// markToMarket values cash plus holdings at d's close. A holding without a
// price on d contributes zero.
func markToMarket(br *broker.SimulatorBroker, prices map[string]*domain.PriceSeries, d time.Time) float64 {
	v := br.Cash()
	for _, p := range br.Positions() {
		if px, ok := prices[p.Symbol].CloseOn(d); ok {
			v += px * float64(p.Shares)
		}
	}
	return v
}
