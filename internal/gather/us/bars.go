// Package us gathers daily US equity bars for a backtest universe from the
// Alpaca market-data API.
package us

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"golang.org/x/sync/errgroup"

	"stockbt/internal/domain"
	"stockbt/internal/gather"
	"stockbt/internal/store"
	"stockbt/internal/util"
)

// Compile-time interface check.
var _ gather.Gatherer = (*UniverseBarGatherer)(nil)

// BarsClient is the subset of the Alpaca market-data client used here.
type BarsClient interface {
	GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error)
}

// latestDater reports the newest stored bar per symbol. ParquetStore
// implements it; stores without it are always fetched from StartDate.
type latestDater interface {
	LatestBarDate(symbol, market string) (time.Time, bool, error)
}

// Options configures a UniverseBarGatherer.
type Options struct {
	Symbols         []string
	StartDate       time.Time
	EndDate         time.Time // zero: latest finished session from Calendar
	Feed            string
	BatchSize       int
	MaxWorkers      int
	RateLimitPerMin int
	// StateDir holds the progress file. Empty disables progress tracking.
	StateDir string
	Calendar CalendarClient
	Logger   *slog.Logger
}

// UniverseBarGatherer fetches daily bars for a fixed symbol list and merges
// them into a BarStore. Symbols that already have bars are fetched only from
// the day after their latest stored bar.
type UniverseBarGatherer struct {
	client  BarsClient
	store   store.BarStore
	opts    Options
	limiter *util.RateLimiter
	log     *slog.Logger
}

// NewAlpacaClient builds a market-data client from credentials. An empty
// dataURL uses the SDK default.
func NewAlpacaClient(apiKey, apiSecret, dataURL string) *marketdata.Client {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return marketdata.NewClient(opts)
}

// NewUniverseBarGatherer creates a gatherer writing to s.
func NewUniverseBarGatherer(client BarsClient, s store.BarStore, opts Options) *UniverseBarGatherer {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = 4
	}
	if opts.Feed == "" {
		opts.Feed = "iex"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &UniverseBarGatherer{
		client:  client,
		store:   s,
		opts:    opts,
		limiter: util.NewRateLimiter(opts.RateLimitPerMin),
		log:     logger.With("gatherer", "us-bars"),
	}
}

// Name returns the gatherer identifier.
func (g *UniverseBarGatherer) Name() string { return "us-bars" }

// Run fetches missing bars for every symbol up to the end date. A failed
// batch is logged and skipped; only cancellation and setup errors are
// returned. Running twice for the same end date is a no-op.
func (g *UniverseBarGatherer) Run(ctx context.Context) error {
	end, err := g.endDate()
	if err != nil {
		return err
	}
	endStr := end.Format(time.DateOnly)

	var prog *progress
	if g.opts.StateDir != "" {
		prog, err = loadProgress(filepath.Join(g.opts.StateDir, progressFile))
		if err != nil {
			return fmt.Errorf("loading gather progress: %w", err)
		}
		if prog.Completed == endStr {
			g.log.Info("already completed", "end", endStr)
			return nil
		}
		prog.resetFor(endStr)
	}

	groups, err := g.plan(end, prog)
	if err != nil {
		return err
	}
	batches := g.batch(groups)

	g.log.Info("starting us-bars",
		"end", endStr,
		"symbols", len(g.opts.Symbols),
		"batches", len(batches),
	)

	var (
		hits     atomic.Int64
		misses   atomic.Int64
		runStart = time.Now()
	)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(g.opts.MaxWorkers)
	for i, b := range batches {
		eg.Go(func() error {
			if err := g.limiter.Wait(egCtx); err != nil {
				return err
			}
			bars, err := g.fetch(b.symbols, b.start, end)
			if err != nil {
				g.log.Error("batch fetch failed",
					"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
					"err", err,
				)
				return nil
			}

			got := make(map[string]struct{})
			for _, bar := range bars {
				got[bar.Symbol] = struct{}{}
			}
			var empty []string
			for _, sym := range b.symbols {
				if _, ok := got[sym]; !ok {
					empty = append(empty, sym)
				}
			}

			if len(bars) > 0 {
				if err := g.store.WriteBars(egCtx, bars); err != nil {
					g.log.Error("writing bars failed", "err", err)
					return nil
				}
			}
			if prog != nil && b.full {
				prog.markEmpty(empty)
			}

			hits.Add(int64(len(got)))
			misses.Add(int64(len(empty)))
			g.log.Debug("batch done",
				"batch", fmt.Sprintf("%d/%d", i+1, len(batches)),
				"hits", len(got),
				"empty", len(empty),
			)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if prog != nil {
		prog.Completed = endStr
		if err := prog.save(); err != nil {
			return fmt.Errorf("saving gather progress: %w", err)
		}
	}

	g.log.Info("complete",
		"hits", hits.Load(),
		"empty", misses.Load(),
		"elapsed", time.Since(runStart).Round(time.Millisecond).String(),
	)
	return nil
}

func (g *UniverseBarGatherer) endDate() (time.Time, error) {
	if !g.opts.EndDate.IsZero() {
		return util.Day(g.opts.EndDate), nil
	}
	if g.opts.Calendar == nil {
		return time.Time{}, fmt.Errorf("no end date and no trading calendar configured")
	}
	end, err := LatestFinishedTradingDay(g.opts.Calendar, time.Now())
	if err != nil {
		return time.Time{}, fmt.Errorf("determining end date: %w", err)
	}
	return end, nil
}

// plan groups symbols by the first day that still needs fetching. Symbols
// already current, and symbols known to have no bars for this end date, are
// left out.
func (g *UniverseBarGatherer) plan(end time.Time, prog *progress) (map[time.Time][]string, error) {
	ld, _ := g.store.(latestDater)
	start := util.Day(g.opts.StartDate)

	groups := make(map[time.Time][]string)
	seen := make(map[string]struct{})
	for _, raw := range g.opts.Symbols {
		sym := strings.ToUpper(strings.TrimSpace(raw))
		if sym == "" {
			continue
		}
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		if prog != nil && prog.isEmpty(sym) {
			continue
		}

		from := start
		if ld != nil {
			latest, ok, err := ld.LatestBarDate(sym, string(domain.MarketUS))
			if err != nil {
				return nil, fmt.Errorf("reading latest bar for %s: %w", sym, err)
			}
			if ok && !latest.Before(from) {
				from = latest.AddDate(0, 0, 1)
			}
		}
		if from.After(end) {
			continue
		}
		groups[from] = append(groups[from], sym)
	}
	return groups, nil
}

type barBatch struct {
	start   time.Time
	symbols []string
	// full is true when the batch covers the whole history window, so an
	// empty response means the symbol has no data at all.
	full bool
}

func (g *UniverseBarGatherer) batch(groups map[time.Time][]string) []barBatch {
	starts := make([]time.Time, 0, len(groups))
	for d := range groups {
		starts = append(starts, d)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	full := util.Day(g.opts.StartDate)
	var out []barBatch
	for _, d := range starts {
		syms := groups[d]
		sort.Strings(syms)
		for i := 0; i < len(syms); i += g.opts.BatchSize {
			out = append(out, barBatch{
				start:   d,
				symbols: syms[i:min(i+g.opts.BatchSize, len(syms))],
				full:    d.Equal(full),
			})
		}
	}
	return out
}

// fetch fetches daily bars for multiple symbols in a single API call.
func (g *UniverseBarGatherer) fetch(symbols []string, start, end time.Time) ([]domain.Bar, error) {
	multiBars, err := g.client.GetMultiBars(symbols, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		// End is exclusive on the API side.
		End:  end.AddDate(0, 0, 1),
		Feed: g.opts.Feed,
	})
	if err != nil {
		return nil, fmt.Errorf("GetMultiBars: %w", err)
	}

	var bars []domain.Bar
	for symbol, alpacaBars := range multiBars {
		for _, ab := range alpacaBars {
			bars = append(bars, domain.Bar{
				Symbol:     strings.ToUpper(symbol),
				Timestamp:  ab.Timestamp,
				Open:       ab.Open,
				High:       ab.High,
				Low:        ab.Low,
				Close:      ab.Close,
				Volume:     int64(ab.Volume),
				TradeCount: int64(ab.TradeCount),
				VWAP:       ab.VWAP,
			})
		}
	}
	return bars, nil
}
