package fundamentals

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"stockbt/internal/domain"
)

// Compile-time interface check.
var _ Provider = (*BreakerProvider)(nil)

// BreakerSettings tunes when the breaker trips and how long it stays open.
type BreakerSettings struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
	Interval            time.Duration
}

// BreakerProvider short-circuits an inner Provider after consecutive failures.
type BreakerProvider struct {
	inner Provider
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerProvider wraps inner with a circuit breaker named name.
func NewBreakerProvider(name string, inner Provider, s BreakerSettings) *BreakerProvider {
	if s.ConsecutiveFailures == 0 {
		s.ConsecutiveFailures = 5
	}
	if s.OpenTimeout == 0 {
		s.OpenTimeout = 30 * time.Second
	}
	st := gobreaker.Settings{
		Name:     name,
		Interval: s.Interval,
		Timeout:  s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
	}
	return &BreakerProvider{inner: inner, cb: gobreaker.NewCircuitBreaker(st)}
}

// Fundamentals delegates to inner unless the breaker is open, in which case
// gobreaker.ErrOpenState is returned.
func (p *BreakerProvider) Fundamentals(ctx context.Context, symbol string, asOf time.Time) (*domain.Fundamentals, error) {
	v, err := p.cb.Execute(func() (interface{}, error) {
		return p.inner.Fundamentals(ctx, symbol, asOf)
	})
	if err != nil {
		return nil, err
	}
	f, _ := v.(*domain.Fundamentals)
	return f, nil
}

// State reports the breaker state for diagnostics.
func (p *BreakerProvider) State() string {
	return p.cb.State().String()
}
