package util

import (
	"sort"
	"time"
)

// DateLayout is the canonical YYYY-MM-DD layout used across config, storage
// and output files.
const DateLayout = "2006-01-02"

// Day truncates t to midnight UTC of its UTC calendar date.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD string into a UTC day.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}

// daysIn returns the number of days in the given month.
func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// AddMonthsClamped shifts t by n calendar months, clamping the day of month
// to the last day of the target month (Mar 31 - 1 month = Feb 28/29).
func AddMonthsClamped(t time.Time, n int) time.Time {
	t = Day(t)
	total := int(t.Month()) - 1 + n
	year := t.Year() + total/12
	m := total % 12
	if m < 0 {
		m += 12
		year--
	}
	month := time.Month(m + 1)
	day := t.Day()
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// WholeMonthsBetween returns the number of whole calendar months elapsed from
// `from` to `to`. A month counts once the day of month has been reached, with
// short months clamped (Jan 31 -> Feb 28 is one month).
func WholeMonthsBetween(from, to time.Time) int {
	from, to = Day(from), Day(to)
	if to.Before(from) {
		return -WholeMonthsBetween(to, from)
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	anchor := from.Day()
	if last := daysIn(to.Year(), to.Month()); anchor > last {
		anchor = last
	}
	if to.Day() < anchor {
		months--
	}
	return months
}

// TradingCalendar is the ordered set of trading days for a run, derived from
// the benchmark's bar dates.
type TradingCalendar struct {
	days []time.Time
}

// NewTradingCalendar builds a calendar from arbitrary day values; duplicates
// are dropped and the result is sorted.
func NewTradingCalendar(days []time.Time) *TradingCalendar {
	seen := make(map[time.Time]struct{}, len(days))
	out := make([]time.Time, 0, len(days))
	for _, d := range days {
		d = Day(d)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return &TradingCalendar{days: out}
}

// Between returns the trading days in [start, end].
func (tc *TradingCalendar) Between(start, end time.Time) []time.Time {
	start, end = Day(start), Day(end)
	lo := sort.Search(len(tc.days), func(i int) bool { return !tc.days[i].Before(start) })
	hi := sort.Search(len(tc.days), func(i int) bool { return tc.days[i].After(end) })
	if lo >= hi {
		return nil
	}
	out := make([]time.Time, hi-lo)
	copy(out, tc.days[lo:hi])
	return out
}

// IsTradingDay reports whether d is in the calendar.
func (tc *TradingCalendar) IsTradingDay(d time.Time) bool {
	d = Day(d)
	i := sort.Search(len(tc.days), func(i int) bool { return !tc.days[i].Before(d) })
	return i < len(tc.days) && tc.days[i].Equal(d)
}

// Len returns the number of days in the calendar.
func (tc *TradingCalendar) Len() int { return len(tc.days) }
