// Package fundamentals supplies point-in-time fundamental ratios to the
// ranker. Providers compose: a store-backed source, wrapped by a Redis cache
// and a circuit breaker.
package fundamentals

import (
	"context"
	"time"

	"stockbt/internal/domain"
	"stockbt/internal/store"
)

// Provider looks up the fundamentals in effect for a symbol on asOf. It
// returns nil without error when no data exists.
type Provider interface {
	Fundamentals(ctx context.Context, symbol string, asOf time.Time) (*domain.Fundamentals, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(ctx context.Context, symbol string, asOf time.Time) (*domain.Fundamentals, error)

// Fundamentals calls f.
func (f ProviderFunc) Fundamentals(ctx context.Context, symbol string, asOf time.Time) (*domain.Fundamentals, error) {
	return f(ctx, symbol, asOf)
}

// StoreProvider serves fundamentals from a FundamentalsStore.
type StoreProvider struct {
	store store.FundamentalsStore
}

// Compile-time interface check.
var _ Provider = (*StoreProvider)(nil)

// NewStoreProvider creates a Provider over s.
func NewStoreProvider(s store.FundamentalsStore) *StoreProvider {
	return &StoreProvider{store: s}
}

// Fundamentals returns the latest stored snapshot on or before asOf.
func (p *StoreProvider) Fundamentals(ctx context.Context, symbol string, asOf time.Time) (*domain.Fundamentals, error) {
	return p.store.FundamentalsAsOf(ctx, symbol, asOf)
}
