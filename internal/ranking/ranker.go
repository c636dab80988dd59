// Package ranking scores candidate symbols on a date from price-derived
// strategy signals and fundamentals, applies filters and returns a
// deterministic ranking.
package ranking

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"stockbt/internal/domain"
	"stockbt/internal/fundamentals"
	"stockbt/internal/strategy"
	"stockbt/internal/util"
)

// Options configures a Ranker.
type Options struct {
	Thresholds Thresholds
	Fetch      FetchPolicy
	Logger     *slog.Logger
}

// Ranker ranks candidates for one strategy variant.
type Ranker struct {
	strategy   strategy.Strategy
	provider   fundamentals.Provider
	thresholds Thresholds
	fetch      FetchPolicy
	logger     *slog.Logger
}

// NewRanker creates a Ranker. provider may be nil, in which case valuation
// and quality stay neutral and fundamentals filters never apply.
func NewRanker(s strategy.Strategy, provider fundamentals.Provider, opts Options) *Ranker {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = DefaultThresholds()
	}
	return &Ranker{
		strategy:   s,
		provider:   provider,
		thresholds: opts.Thresholds,
		fetch:      opts.Fetch.withDefaults(),
		logger:     opts.Logger.With("component", "ranker", "strategy", string(s.Name())),
	}
}

// Strategy returns the variant the ranker dispatches to.
func (r *Ranker) Strategy() strategy.Strategy { return r.strategy }

// Input is everything one ranking call needs.
type Input struct {
	AsOf       time.Time
	Candidates []string
	Series     map[string]*domain.PriceSeries
	Weights    domain.PillarWeights
	Filters    Filters
}

// FetchSummary counts fundamentals lookup outcomes for one ranking call.
type FetchSummary struct {
	Requested int `json:"requested"`
	OK        int `json:"ok"`
	Missing   int `json:"missing"`
	TimedOut  int `json:"timed_out"`
	Failed    int `json:"failed"`
}

// Result is the ranking for one date.
type Result struct {
	// Ranked is ordered by descending score, ties by symbol.
	Ranked []domain.RankedCandidate
	// Signals holds the strategy output of every ranked symbol.
	Signals map[string]strategy.Signals
	// Evaluated is the number of distinct candidates considered.
	Evaluated int
	// Skipped tallies candidates the strategy could not score, by reason.
	Skipped map[string]int
	// Dropped tallies candidates removed by filters, by filter.
	Dropped map[string]int
	Fetch   FetchSummary
}

type scored struct {
	symbol  string
	signals strategy.Signals
	pillars domain.PillarScores
	fund    *domain.Fundamentals
	fetch   FetchStatus // empty when no lookup ran
	score   float64
}

// Rank scores every candidate as of in.AsOf. Bars after AsOf are never read.
// Symbols with no usable history are skipped, never errored.
func (r *Ranker) Rank(ctx context.Context, in Input) Result {
	weights := in.Weights
	if weights.IsZero() {
		weights = r.strategy.DefaultWeights()
	}
	weights = weights.Normalize()

	res := Result{
		Signals: make(map[string]strategy.Signals),
		Skipped: make(map[string]int),
		Dropped: make(map[string]int),
	}

	symbols := dedupeSorted(in.Candidates)
	res.Evaluated = len(symbols)

	var pool []*scored
	for _, sym := range symbols {
		sig, skip := r.strategy.Evaluate(in.Series[sym], in.AsOf)
		if skip != "" {
			res.Skipped[string(skip)]++
			r.logger.Debug("candidate skipped", "symbol", sym, "reason", skip,
				"as_of", in.AsOf.Format(util.DateLayout))
			continue
		}
		c := &scored{
			symbol:  sym,
			signals: sig,
			pillars: domain.PillarScores{
				Valuation: neutral,
				Quality:   neutral,
				Technical: sig.Technical(),
				Risk:      sig.Risk(),
			},
		}
		c.score = weights.Composite(c.pillars)
		pool = append(pool, c)
	}

	if r.needsFundamentals(weights, in.Filters) && len(pool) > 0 {
		res.Fetch = r.attachFundamentals(ctx, pool, in.AsOf)
	}

	kept := pool[:0]
	for _, c := range pool {
		if c.fund != nil {
			c.pillars.Valuation = ValuationScore(c.fund, r.thresholds)
			c.pillars.Quality = QualityScore(c.fund, r.thresholds)
		}
		c.score = weights.Composite(c.pillars)
		if reason := in.Filters.check(c.pillars, c.fund, c.fetch); reason != "" {
			res.Dropped[reason]++
			continue
		}
		kept = append(kept, c)
	}

	sortScored(kept)
	res.Ranked = make([]domain.RankedCandidate, len(kept))
	for i, c := range kept {
		res.Ranked[i] = domain.RankedCandidate{
			Symbol:  c.symbol,
			Rank:    i + 1,
			Score:   c.score,
			Pillars: c.pillars,
		}
		res.Signals[c.symbol] = c.signals
	}
	return res
}

func (r *Ranker) needsFundamentals(w domain.PillarWeights, f Filters) bool {
	if r.provider == nil {
		return false
	}
	return r.strategy.UsesFundamentals() || w.Valuation > 0 || w.Quality > 0 || f.NeedsFundamentals()
}

// attachFundamentals fetches fundamentals for the top-K candidates by
// preliminary score and records each candidate's lookup outcome. Candidates
// below the cut are marked FetchSkipped.
func (r *Ranker) attachFundamentals(ctx context.Context, pool []*scored, asOf time.Time) FetchSummary {
	for _, c := range pool {
		c.fetch = FetchSkipped
	}
	prelim := make([]*scored, len(pool))
	copy(prelim, pool)
	sortScored(prelim)
	if r.fetch.TopK > 0 && len(prelim) > r.fetch.TopK {
		prelim = prelim[:r.fetch.TopK]
	}

	symbols := make([]string, len(prelim))
	for i, c := range prelim {
		symbols[i] = c.symbol
	}
	results := fetchAll(ctx, r.provider, symbols, asOf, r.fetch)

	sum := FetchSummary{Requested: len(results)}
	for i, fr := range results {
		prelim[i].fetch = fr.Status
		switch fr.Status {
		case FetchOK:
			sum.OK++
			prelim[i].fund = fr.Data
		case FetchMissing:
			sum.Missing++
		case FetchTimedOut:
			sum.TimedOut++
			r.logger.Debug("fundamentals timed out, keeping candidate", "symbol", fr.Symbol)
		case FetchFailed:
			sum.Failed++
			r.logger.Debug("fundamentals failed, keeping candidate", "symbol", fr.Symbol, "error", fr.Err)
		}
	}
	if sum.TimedOut+sum.Failed > 0 {
		r.logger.Warn("fundamentals degraded",
			"as_of", asOf.Format(util.DateLayout),
			"requested", sum.Requested,
			"timed_out", sum.TimedOut,
			"failed", sum.Failed,
		)
	}
	return sum
}

func sortScored(xs []*scored) {
	sort.SliceStable(xs, func(i, j int) bool {
		if xs[i].score != xs[j].score {
			return xs[i].score > xs[j].score
		}
		return xs[i].symbol < xs[j].symbol
	})
}

func dedupeSorted(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
