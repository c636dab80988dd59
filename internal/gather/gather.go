// Package gather defines the data gathering jobs that populate the local
// bar and macro stores ahead of a backtest.
package gather

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Gatherer is the interface for all data gathering processes.
type Gatherer interface {
	// Name returns the gatherer identifier.
	Name() string
	// Run performs one gathering pass and returns when it is done or ctx is
	// cancelled.
	Run(ctx context.Context) error
}

// RunAll runs gatherers in order, stopping at the first error.
func RunAll(ctx context.Context, logger *slog.Logger, gs ...Gatherer) error {
	for _, g := range gs {
		started := time.Now()
		logger.Info("gatherer starting", "gatherer", g.Name())
		if err := g.Run(ctx); err != nil {
			return fmt.Errorf("%s: %w", g.Name(), err)
		}
		logger.Info("gatherer finished", "gatherer", g.Name(), "elapsed", time.Since(started).Round(time.Millisecond).String())
	}
	return nil
}
