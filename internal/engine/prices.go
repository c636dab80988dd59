package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"stockbt/internal/domain"
	"stockbt/internal/store"
)

// LoadPrices reads the bars of every symbol in [start, end] with at most
// workers concurrent reads and returns one series per symbol. A symbol whose
// bars cannot be read or are malformed gets an empty series and a warning;
// only context cancellation is returned as an error.
func LoadPrices(ctx context.Context, bars store.BarStore, market domain.Market, symbols []string, start, end time.Time, workers int, logger *slog.Logger) (map[string]*domain.PriceSeries, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if workers < 1 {
		workers = 1
	}

	var mu sync.Mutex
	out := make(map[string]*domain.PriceSeries, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, sym := range symbols {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ps, err := loadSeries(gctx, bars, market, sym, start, end)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				logger.Warn("price history unavailable", "symbol", sym, "error", err)
				ps, _ = domain.NewPriceSeries(sym, nil)
			}
			mu.Lock()
			out[sym] = ps
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading prices: %w", err)
	}
	return out, nil
}

func loadSeries(ctx context.Context, bars store.BarStore, market domain.Market, sym string, start, end time.Time) (*domain.PriceSeries, error) {
	rows, err := bars.ReadBars(ctx, sym, string(market), start, end)
	if err != nil {
		return nil, fmt.Errorf("reading bars for %s: %w", sym, err)
	}
	return domain.NewPriceSeries(sym, rows)
}
