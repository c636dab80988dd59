package regime

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stockbt/internal/domain"
	"stockbt/internal/util"
)

// MacroSource supplies macro observations for a series and date range.
type MacroSource interface {
	MacroObservations(ctx context.Context, seriesID string, start, end time.Time) ([]domain.MacroObservation, error)
}

// lookbackMonths is how far before the range start observations are loaded so
// that the 12-month CPI lookback resolves on the first day.
const lookbackMonths = 13

// scoredSeries are the series the detector consumes.
var scoredSeries = []string{
	domain.SeriesVIX,
	domain.SeriesYieldSpread,
	domain.SeriesPolicyRate,
	domain.SeriesCPI,
}

// History is a precomputed, date-ordered sequence of regime results with
// O(log n) floor lookup.
type History struct {
	series  map[string]*util.DateIndex[float64]
	results *util.DateIndex[domain.RegimeResult]
}

// BuildHistory loads the scored macro series from src and computes a regime
// result for every observation date in [start, end]. A series that fails to
// load is logged and treated as absent; only context cancellation is
// returned as an error.
func BuildHistory(ctx context.Context, src MacroSource, start, end time.Time, workers int, logger *slog.Logger) (*History, error) {
	if logger == nil {
		logger = slog.Default()
	}
	from := util.AddMonthsClamped(start, -lookbackMonths)

	var mu sync.Mutex
	obs := make(map[string][]domain.MacroObservation, len(scoredSeries))

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range scoredSeries {
		g.Go(func() error {
			rows, err := src.MacroObservations(gctx, id, from, end)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				logger.Warn("macro series unavailable, treating as gap", "series", id, "error", err)
				return nil
			}
			mu.Lock()
			obs[id] = rows
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading macro series: %w", err)
	}

	h, err := NewHistory(ctx, obs, start, end, workers)
	if err != nil {
		return nil, err
	}
	logger.Info("regime history built",
		"start", start.Format(util.DateLayout),
		"end", end.Format(util.DateLayout),
		"entries", h.Len(),
	)
	return h, nil
}

// NewHistory builds a History from in-memory observations keyed by series id.
// Every observation feeds lookbacks, but only dates within [start, end]
// produce entries.
func NewHistory(ctx context.Context, obs map[string][]domain.MacroObservation, start, end time.Time, workers int) (*History, error) {
	start, end = util.Day(start), util.Day(end)
	if end.Before(start) {
		return nil, fmt.Errorf("regime history: end %s before start %s",
			end.Format(util.DateLayout), start.Format(util.DateLayout))
	}

	h := &History{series: make(map[string]*util.DateIndex[float64], len(obs))}
	dateSet := make(map[time.Time]struct{})
	for _, id := range scoredSeries {
		idx, err := indexSeries(obs[id])
		if err != nil {
			return nil, fmt.Errorf("indexing %s: %w", id, err)
		}
		h.series[id] = idx
		for i := 0; i < idx.Len(); i++ {
			d, _ := idx.At(i)
			if !d.Before(start) && !d.After(end) {
				dateSet[d] = struct{}{}
			}
		}
	}

	dates := make([]time.Time, 0, len(dateSet))
	for d := range dateSet {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	results := make([]domain.RegimeResult, len(dates))
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for i, d := range dates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = Detect(h.Snapshot(d))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("computing regime history: %w", err)
	}

	idx, err := util.NewDateIndex(dates, results)
	if err != nil {
		return nil, err
	}
	h.results = idx
	return h, nil
}

// indexSeries sorts observations and keeps the last value reported for any
// duplicated date.
func indexSeries(rows []domain.MacroObservation) (*util.DateIndex[float64], error) {
	sorted := make([]domain.MacroObservation, len(rows))
	copy(sorted, rows)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.Before(sorted[j].Date) })

	dates := make([]time.Time, 0, len(sorted))
	values := make([]float64, 0, len(sorted))
	for _, o := range sorted {
		d := util.Day(o.Date)
		if n := len(dates); n > 0 && dates[n-1].Equal(d) {
			values[n-1] = o.Value
			continue
		}
		dates = append(dates, d)
		values = append(values, o.Value)
	}
	return util.NewDateIndex(dates, values)
}

// Snapshot resolves every signal to its latest value on or before d, with
// policy-rate and CPI lookbacks taken at calendar-month offsets.
func (h *History) Snapshot(d time.Time) domain.MacroSnapshot {
	d = util.Day(d)
	return domain.MacroSnapshot{
		Date:            d,
		VIX:             h.floor(domain.SeriesVIX, d),
		YieldSpread:     h.floor(domain.SeriesYieldSpread, d),
		PolicyRate:      h.floor(domain.SeriesPolicyRate, d),
		PolicyRate3MAgo: h.floor(domain.SeriesPolicyRate, util.AddMonthsClamped(d, -3)),
		PolicyRate6MAgo: h.floor(domain.SeriesPolicyRate, util.AddMonthsClamped(d, -6)),
		CPI:             h.floor(domain.SeriesCPI, d),
		CPI12MAgo:       h.floor(domain.SeriesCPI, util.AddMonthsClamped(d, -12)),
	}
}

func (h *History) floor(id string, d time.Time) *float64 {
	idx, ok := h.series[id]
	if !ok {
		return nil
	}
	v, _, ok := idx.Floor(d)
	if !ok {
		return nil
	}
	return &v
}

// Lookup returns the regime in force on d: the latest precomputed entry on or
// before d, or a fresh detection when d precedes the history.
func (h *History) Lookup(d time.Time) domain.RegimeResult {
	if r, _, ok := h.results.Floor(d); ok {
		return r
	}
	return Detect(h.Snapshot(d))
}

// Len returns the number of precomputed entries.
func (h *History) Len() int { return h.results.Len() }

// Results returns the precomputed entries in date order.
func (h *History) Results() []domain.RegimeResult { return h.results.Values() }
