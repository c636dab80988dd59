package util

import (
	"fmt"
	"sort"
	"time"
)

// DateIndex is an immutable, date-sorted sequence of values supporting floor
// lookups. Floor is O(log n).
type DateIndex[T any] struct {
	dates  []time.Time
	values []T
}

// NewDateIndex builds an index from parallel date/value slices. Dates are
// normalised with Day and must be strictly increasing after normalisation.
func NewDateIndex[T any](dates []time.Time, values []T) (*DateIndex[T], error) {
	if len(dates) != len(values) {
		return nil, fmt.Errorf("date index: %d dates but %d values", len(dates), len(values))
	}
	idx := &DateIndex[T]{
		dates:  make([]time.Time, len(dates)),
		values: make([]T, len(values)),
	}
	for i, d := range dates {
		d = Day(d)
		if i > 0 && !d.After(idx.dates[i-1]) {
			return nil, fmt.Errorf("date index: %s not after %s",
				d.Format(DateLayout), idx.dates[i-1].Format(DateLayout))
		}
		idx.dates[i] = d
	}
	copy(idx.values, values)
	return idx, nil
}

// Len returns the number of entries.
func (x *DateIndex[T]) Len() int { return len(x.dates) }

// At returns the i-th entry.
func (x *DateIndex[T]) At(i int) (time.Time, T) { return x.dates[i], x.values[i] }

// First returns the earliest date, or the zero time for an empty index.
func (x *DateIndex[T]) First() time.Time {
	if len(x.dates) == 0 {
		return time.Time{}
	}
	return x.dates[0]
}

// FloorIndex returns the position of the latest entry dated on or before d,
// or -1 when d precedes every entry.
func (x *DateIndex[T]) FloorIndex(d time.Time) int {
	d = Day(d)
	i := sort.Search(len(x.dates), func(i int) bool { return x.dates[i].After(d) })
	return i - 1
}

// Floor returns the latest value dated on or before d.
func (x *DateIndex[T]) Floor(d time.Time) (T, time.Time, bool) {
	i := x.FloorIndex(d)
	if i < 0 {
		var zero T
		return zero, time.Time{}, false
	}
	return x.values[i], x.dates[i], true
}

// Values returns a copy of the stored values in date order.
func (x *DateIndex[T]) Values() []T {
	out := make([]T, len(x.values))
	copy(out, x.values)
	return out
}
