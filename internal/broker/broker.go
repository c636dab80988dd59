// Package broker defines the Broker interface and the simulated broker that
// executes backtest orders against a cost model.
package broker

import (
	"context"
	"errors"

	"stockbt/internal/domain"
)

// Order rejection errors.
var (
	ErrInsufficientCash   = errors.New("broker: insufficient cash")
	ErrInsufficientShares = errors.New("broker: insufficient shares")
	ErrInvalidOrder       = errors.New("broker: invalid order")
)

// Broker abstracts order execution and account management.
type Broker interface {
	// Name returns the broker identifier (e.g. "simulator").
	Name() string

	// SubmitOrder executes an order and returns the resulting fill.
	SubmitOrder(ctx context.Context, order domain.Order) (domain.Fill, error)

	// GetPositions returns all current positions ordered by symbol.
	GetPositions(ctx context.Context) ([]domain.Position, error)

	// GetAccount returns a snapshot of the account's cash and costs.
	GetAccount(ctx context.Context) (*domain.AccountInfo, error)
}
