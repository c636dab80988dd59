package engine

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"stockbt/internal/broker"
	"stockbt/internal/domain"
	"stockbt/internal/ranking"
	"stockbt/internal/util"
)

// Fatal run errors. Everything else degrades and is recorded in rebalance
// diagnostics.
var (
	ErrEmptyUniverse        = errors.New("universe has no candidates besides the benchmark")
	ErrBadDateRange         = errors.New("end date precedes start date")
	ErrBenchmarkUnavailable = errors.New("benchmark unavailable")
	ErrNoTradingDays        = errors.New("no trading days in range")
)

// Cadence is the rebalance frequency.
type Cadence string

const (
	CadenceMonthly    Cadence = "monthly"
	CadenceQuarterly  Cadence = "quarterly"
	CadenceSemiannual Cadence = "semiannual"
	CadenceAnnual     Cadence = "annual"
)

// Months returns the whole months that must elapse between rebalances, or 0
// for an unknown cadence.
func (c Cadence) Months() int {
	switch c {
	case CadenceMonthly:
		return 1
	case CadenceQuarterly:
		return 3
	case CadenceSemiannual:
		return 6
	case CadenceAnnual:
		return 12
	}
	return 0
}

// RunConfig is the immutable description of one backtest. It is built once
// at run start and passed by value.
type RunConfig struct {
	Start          time.Time
	End            time.Time
	InitialCapital float64
	Cadence        Cadence
	TopN           int
	HoldBuffer     int
	Benchmark      string
	Universe       []string
	// LookbackDays is the calendar-day history loaded before Start so
	// signals are warm on the first rebalance.
	LookbackDays int
	// Weights are the base pillar weights. Zero means the strategy default.
	Weights domain.PillarWeights
	Filters ranking.Filters
	Costs   broker.CostModel
}

// Candidates returns the sorted, deduplicated universe without the
// benchmark.
func (c RunConfig) Candidates() []string {
	seen := make(map[string]struct{}, len(c.Universe))
	out := make([]string, 0, len(c.Universe))
	for _, s := range c.Universe {
		if s == "" || s == c.Benchmark {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Symbols returns the candidates plus the benchmark.
func (c RunConfig) Symbols() []string {
	return append(c.Candidates(), c.Benchmark)
}

// HistoryStart is the first day of price history a run needs.
func (c RunConfig) HistoryStart() time.Time {
	return util.Day(c.Start).AddDate(0, 0, -c.LookbackDays)
}

// Validate reports structural misconfiguration. Sentinel errors are wrapped
// so callers can match them with errors.Is.
func (c RunConfig) Validate() error {
	if c.Start.IsZero() || c.End.IsZero() {
		return fmt.Errorf("%w: start and end are required", ErrBadDateRange)
	}
	if util.Day(c.End).Before(util.Day(c.Start)) {
		return fmt.Errorf("%w: start %s, end %s", ErrBadDateRange,
			c.Start.Format(util.DateLayout), c.End.Format(util.DateLayout))
	}
	if c.Benchmark == "" {
		return fmt.Errorf("%w: no benchmark symbol configured", ErrBenchmarkUnavailable)
	}
	if len(c.Candidates()) == 0 {
		return ErrEmptyUniverse
	}
	if c.InitialCapital <= 0 {
		return fmt.Errorf("initial capital must be positive, got %v", c.InitialCapital)
	}
	if c.Cadence.Months() == 0 {
		return fmt.Errorf("unknown rebalance cadence %q", c.Cadence)
	}
	if c.TopN < 1 {
		return fmt.Errorf("top_n must be at least 1, got %d", c.TopN)
	}
	if c.HoldBuffer < 0 {
		return fmt.Errorf("hold_buffer must be non-negative, got %d", c.HoldBuffer)
	}
	if c.LookbackDays < 0 {
		return fmt.Errorf("lookback_days must be non-negative, got %d", c.LookbackDays)
	}
	if err := c.Costs.Validate(); err != nil {
		return fmt.Errorf("cost model: %w", err)
	}
	return nil
}
