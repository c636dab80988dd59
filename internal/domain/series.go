package domain

import (
	"fmt"
	"sort"
	"time"

	"stockbt/internal/util"
)

// PriceSeries is the immutable, date-ordered daily bar history of one symbol.
// Dates are normalised to UTC days and strictly increasing.
type PriceSeries struct {
	Symbol string
	index  *util.DateIndex[Bar]
	byDate map[time.Time]int
}

// NewPriceSeries sorts bars by date and validates that no two bars fall on the
// same day. An empty bar slice yields a valid, empty series.
func NewPriceSeries(symbol string, bars []Bar) (*PriceSeries, error) {
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	dates := make([]time.Time, len(sorted))
	byDate := make(map[time.Time]int, len(sorted))
	for i := range sorted {
		d := util.Day(sorted[i].Timestamp)
		if _, dup := byDate[d]; dup {
			return nil, fmt.Errorf("price series %s: duplicate bar on %s", symbol, d.Format(util.DateLayout))
		}
		dates[i] = d
		byDate[d] = i
	}
	index, err := util.NewDateIndex(dates, sorted)
	if err != nil {
		return nil, fmt.Errorf("price series %s: %w", symbol, err)
	}
	return &PriceSeries{Symbol: symbol, index: index, byDate: byDate}, nil
}

// Len returns the number of bars. A nil series has none.
func (ps *PriceSeries) Len() int {
	if ps == nil {
		return 0
	}
	return ps.index.Len()
}

// Dates returns a copy of the bar dates.
func (ps *PriceSeries) Dates() []time.Time {
	out := make([]time.Time, ps.Len())
	for i := range out {
		out[i], _ = ps.index.At(i)
	}
	return out
}

// CloseOn returns the close on exactly day d. A missing bar means the symbol
// is untradable that day.
func (ps *PriceSeries) CloseOn(d time.Time) (float64, bool) {
	if ps == nil {
		return 0, false
	}
	i, ok := ps.byDate[util.Day(d)]
	if !ok {
		return 0, false
	}
	if _, bar := ps.index.At(i); bar.Close > 0 {
		return bar.Close, true
	}
	return 0, false
}

// IndexOnOrBefore returns the index of the latest bar dated on or before d,
// or -1. It is the DateIndex floor lookup, O(log n).
func (ps *PriceSeries) IndexOnOrBefore(d time.Time) int {
	if ps == nil {
		return -1
	}
	return ps.index.FloorIndex(d)
}

// LastCloseOnOrBefore returns the latest known close at or before d.
func (ps *PriceSeries) LastCloseOnOrBefore(d time.Time) (float64, bool) {
	i := ps.IndexOnOrBefore(d)
	if i < 0 {
		return 0, false
	}
	_, bar := ps.index.At(i)
	return bar.Close, true
}

// ClosesThrough returns the closing prices of every bar dated on or before d,
// oldest first. The returned slice must not be modified.
func (ps *PriceSeries) ClosesThrough(d time.Time) []float64 {
	i := ps.IndexOnOrBefore(d)
	if i < 0 {
		return nil
	}
	closes := make([]float64, i+1)
	for j := 0; j <= i; j++ {
		_, bar := ps.index.At(j)
		closes[j] = bar.Close
	}
	return closes
}
