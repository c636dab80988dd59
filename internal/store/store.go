// Package store defines storage interfaces for persisting and retrieving
// bars, macro observations, fundamentals and archived backtest runs.
package store

import (
	"context"
	"errors"
	"time"

	"stockbt/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// BarStore persists and retrieves OHLCV bar data.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol and market whose trading
	// day falls within [start, end].
	ReadBars(ctx context.Context, symbol string, market string, start, end time.Time) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in the given market.
	ListSymbols(ctx context.Context, market string) ([]string, error)
}

// MacroStore persists and retrieves macro series observations.
type MacroStore interface {
	// WriteMacroObservations upserts observations keyed by (series, date).
	WriteMacroObservations(ctx context.Context, obs []domain.MacroObservation) error

	// MacroObservations returns observations of a series within [start, end],
	// oldest first.
	MacroObservations(ctx context.Context, seriesID string, start, end time.Time) ([]domain.MacroObservation, error)

	// LatestMacroDate returns the most recent stored date for a series.
	// The boolean is false when the series has no rows.
	LatestMacroDate(ctx context.Context, seriesID string) (time.Time, bool, error)
}

// FundamentalsStore persists and retrieves point-in-time fundamentals.
type FundamentalsStore interface {
	// SaveFundamentals upserts a snapshot keyed by (symbol, as-of date).
	SaveFundamentals(ctx context.Context, f domain.Fundamentals) error

	// FundamentalsAsOf returns the latest snapshot dated on or before asOf,
	// or nil without error when none exists.
	FundamentalsAsOf(ctx context.Context, symbol string, asOf time.Time) (*domain.Fundamentals, error)
}

// RunRecord is an archived backtest run.
type RunRecord struct {
	ID         string                  `json:"id"`
	CreatedAt  time.Time               `json:"created_at"`
	Strategy   string                  `json:"strategy"`
	ConfigJSON []byte                  `json:"config"`
	Summary    domain.BacktestSummary  `json:"summary"`
	Daily      []domain.DailyRecord    `json:"daily_records,omitempty"`
	Rebalances []domain.RebalanceEvent `json:"rebalance_events,omitempty"`
}

// RunSummary is the listing view of an archived run.
type RunSummary struct {
	ID        string                 `json:"id"`
	CreatedAt time.Time              `json:"created_at"`
	Strategy  string                 `json:"strategy"`
	Summary   domain.BacktestSummary `json:"summary"`
}

// RunStore archives completed backtest runs.
type RunStore interface {
	// SaveRun persists a run with its daily records and rebalance events.
	SaveRun(ctx context.Context, run RunRecord) error

	// GetRun returns a run by id, or ErrNotFound.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns returns the most recent runs first, up to limit (0 = all).
	ListRuns(ctx context.Context, limit int) ([]RunSummary, error)
}
