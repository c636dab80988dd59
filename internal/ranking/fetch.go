package ranking

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"stockbt/internal/domain"
	"stockbt/internal/fundamentals"
)

// FetchStatus classifies the outcome of one fundamentals lookup.
type FetchStatus string

const (
	FetchOK       FetchStatus = "ok"
	FetchMissing  FetchStatus = "missing"
	FetchTimedOut FetchStatus = "timed_out"
	FetchFailed   FetchStatus = "failed"

	// FetchSkipped marks a candidate that fell outside the top-K cut and
	// was never looked up.
	FetchSkipped FetchStatus = "skipped"
)

// FetchResult is the outcome of a bounded-time fundamentals lookup. Data is
// set only when Status is FetchOK.
type FetchResult struct {
	Symbol string
	Status FetchStatus
	Data   *domain.Fundamentals
	Err    error
}

// FetchPolicy bounds the fundamentals fetch performed during ranking.
type FetchPolicy struct {
	// TopK caps how many of the best preliminary candidates are fetched.
	// Zero fetches every candidate.
	TopK int
	// Concurrency bounds in-flight lookups. Zero means 4.
	Concurrency int
	// Timeout bounds each lookup. Zero means 5s.
	Timeout time.Duration
}

func (p FetchPolicy) withDefaults() FetchPolicy {
	if p.Concurrency <= 0 {
		p.Concurrency = 4
	}
	if p.Timeout <= 0 {
		p.Timeout = 5 * time.Second
	}
	return p
}

// fetchOne runs a single lookup under its own deadline. The provider call
// runs in its own goroutine so a provider that ignores ctx still cannot hold
// the caller past the timeout.
func fetchOne(ctx context.Context, p fundamentals.Provider, symbol string, asOf time.Time, timeout time.Duration) FetchResult {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type reply struct {
		f   *domain.Fundamentals
		err error
	}
	ch := make(chan reply, 1)
	go func() {
		f, err := p.Fundamentals(ctx, symbol, asOf)
		ch <- reply{f, err}
	}()

	select {
	case r := <-ch:
		switch {
		case r.err != nil && errors.Is(r.err, context.DeadlineExceeded):
			return FetchResult{Symbol: symbol, Status: FetchTimedOut, Err: r.err}
		case r.err != nil:
			return FetchResult{Symbol: symbol, Status: FetchFailed, Err: r.err}
		case r.f == nil:
			return FetchResult{Symbol: symbol, Status: FetchMissing}
		default:
			return FetchResult{Symbol: symbol, Status: FetchOK, Data: r.f}
		}
	case <-ctx.Done():
		return FetchResult{Symbol: symbol, Status: FetchTimedOut, Err: ctx.Err()}
	}
}

// fetchAll looks up symbols with bounded concurrency. Results are returned
// in input order.
func fetchAll(ctx context.Context, p fundamentals.Provider, symbols []string, asOf time.Time, policy FetchPolicy) []FetchResult {
	policy = policy.withDefaults()
	results := make([]FetchResult, len(symbols))

	var g errgroup.Group
	g.SetLimit(policy.Concurrency)
	for i, sym := range symbols {
		g.Go(func() error {
			results[i] = fetchOne(ctx, p, sym, asOf, policy.Timeout)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
