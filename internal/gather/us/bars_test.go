package us

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stockbt/internal/store"
)

type barCall struct {
	symbols []string
	start   time.Time
	end     time.Time
}

// fakeBars serves closes of 100+day-of-month for each listed symbol.
type fakeBars struct {
	mu     sync.Mutex
	listed map[string]bool
	calls  []barCall
	err    error
}

func (f *fakeBars) GetMultiBars(symbols []string, req marketdata.GetBarsRequest) (map[string][]marketdata.Bar, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, barCall{symbols: append([]string(nil), symbols...), start: req.Start, end: req.End})
	if f.err != nil {
		return nil, f.err
	}
	out := make(map[string][]marketdata.Bar)
	for _, sym := range symbols {
		if !f.listed[sym] {
			continue
		}
		for d := req.Start; d.Before(req.End); d = d.AddDate(0, 0, 1) {
			if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
				continue
			}
			px := 100 + float64(d.Day())
			out[strings.ToLower(sym)] = append(out[strings.ToLower(sym)], marketdata.Bar{
				Timestamp: d.Add(5 * time.Hour),
				Open:      px,
				High:      px,
				Low:       px,
				Close:     px,
				Volume:    1000,
			})
		}
	}
	return out, nil
}

func (f *fakeBars) callsFor(sym string) []barCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []barCall
	for _, c := range f.calls {
		for _, s := range c.symbols {
			if s == sym {
				out = append(out, c)
			}
		}
	}
	return out
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestUniverseBarGathererWritesAndSkips(t *testing.T) {
	dir := t.TempDir()
	ps := store.NewParquetStore(dir)
	client := &fakeBars{listed: map[string]bool{"AAPL": true, "MSFT": true}}
	opts := Options{
		Symbols:   []string{"aapl", "MSFT", "GONE", "AAPL"},
		StartDate: day(2024, 1, 1),
		EndDate:   day(2024, 1, 31),
		BatchSize: 2,
		StateDir:  dir,
	}
	ctx := context.Background()

	if err := NewUniverseBarGatherer(client, ps, opts).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	syms, err := ps.ListSymbols(ctx, "us")
	if err != nil {
		t.Fatal(err)
	}
	if got := strings.Join(syms, ","); got != "AAPL,MSFT" {
		t.Errorf("stored symbols = %s, want AAPL,MSFT", got)
	}
	bars, err := ps.ReadBars(ctx, "AAPL", "us", day(2024, 1, 1), day(2024, 1, 31))
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 23 {
		t.Errorf("AAPL bars = %d, want 23 weekdays in January 2024", len(bars))
	}
	for _, c := range client.calls {
		if !c.end.Equal(day(2024, 2, 1)) {
			t.Errorf("request end = %s, want the day after the end date", c.end)
		}
	}

	prog, err := loadProgress(filepath.Join(dir, progressFile))
	if err != nil {
		t.Fatal(err)
	}
	if prog.Completed != "2024-01-31" {
		t.Errorf("completed = %q, want 2024-01-31", prog.Completed)
	}
	if !prog.isEmpty("GONE") || prog.isEmpty("AAPL") {
		t.Errorf("empty set = %v, want only GONE", prog.EmptyList)
	}

	// Same end date again: nothing to do.
	n := len(client.calls)
	if err := NewUniverseBarGatherer(client, ps, opts).Run(ctx); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(client.calls) != n {
		t.Errorf("rerun made %d calls, want 0", len(client.calls)-n)
	}
}

func TestUniverseBarGathererIncremental(t *testing.T) {
	dir := t.TempDir()
	ps := store.NewParquetStore(dir)
	client := &fakeBars{listed: map[string]bool{"AAPL": true, "NEW": true}}
	ctx := context.Background()

	first := Options{Symbols: []string{"AAPL"}, StartDate: day(2024, 1, 1), EndDate: day(2024, 1, 31)}
	if err := NewUniverseBarGatherer(client, ps, first).Run(ctx); err != nil {
		t.Fatal(err)
	}

	second := Options{Symbols: []string{"AAPL", "NEW"}, StartDate: day(2024, 1, 1), EndDate: day(2024, 2, 29)}
	if err := NewUniverseBarGatherer(client, ps, second).Run(ctx); err != nil {
		t.Fatal(err)
	}

	aapl := client.callsFor("AAPL")
	if len(aapl) != 2 {
		t.Fatalf("AAPL calls = %d, want 2", len(aapl))
	}
	if got := aapl[1].start; !got.Equal(day(2024, 2, 1)) {
		t.Errorf("incremental start = %s, want 2024-02-01", got.Format(time.DateOnly))
	}
	newCalls := client.callsFor("NEW")
	if len(newCalls) != 1 || !newCalls[0].start.Equal(day(2024, 1, 1)) {
		t.Errorf("NEW calls = %+v, want one full-history call", newCalls)
	}
	for _, c := range client.calls {
		if len(c.symbols) > 1 {
			sorted := append([]string(nil), c.symbols...)
			sort.Strings(sorted)
			if strings.Join(sorted, ",") == "AAPL,NEW" {
				t.Errorf("symbols with different start dates shared a batch")
			}
		}
	}

	latest, ok, err := ps.LatestBarDate("AAPL", "us")
	if err != nil || !ok {
		t.Fatalf("LatestBarDate: %v %v", ok, err)
	}
	if !latest.Equal(day(2024, 2, 29)) {
		t.Errorf("latest AAPL bar = %s, want 2024-02-29", latest.Format(time.DateOnly))
	}
}

func TestUniverseBarGathererBatchFailureIsNotFatal(t *testing.T) {
	client := &fakeBars{err: errors.New("503")}
	g := NewUniverseBarGatherer(client, store.NewParquetStore(t.TempDir()), Options{
		Symbols:   []string{"AAPL"},
		StartDate: day(2024, 1, 1),
		EndDate:   day(2024, 1, 5),
	})
	if err := g.Run(context.Background()); err != nil {
		t.Errorf("Run = %v, want nil", err)
	}
}

func TestUniverseBarGathererCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	g := NewUniverseBarGatherer(&fakeBars{}, store.NewParquetStore(t.TempDir()), Options{
		Symbols:   []string{"AAPL"},
		StartDate: day(2024, 1, 1),
		EndDate:   day(2024, 1, 5),
	})
	if err := g.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run = %v, want context.Canceled", err)
	}
}

func TestUniverseBarGathererName(t *testing.T) {
	g := NewUniverseBarGatherer(&fakeBars{}, nil, Options{})
	if got := g.Name(); got != "us-bars" {
		t.Errorf("Name() = %q, want %q", got, "us-bars")
	}
}

type fakeCalendar struct{ days []string }

func (f fakeCalendar) GetCalendar(alpaca.GetCalendarRequest) ([]alpaca.CalendarDay, error) {
	out := make([]alpaca.CalendarDay, len(f.days))
	for i, d := range f.days {
		out[i] = alpaca.CalendarDay{Date: d}
	}
	return out, nil
}

func TestLatestFinishedTradingDay(t *testing.T) {
	et, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	cal := fakeCalendar{days: []string{"2024-03-11", "2024-03-12", "2024-03-13"}}

	tests := []struct {
		name string
		now  time.Time
		want string
	}{
		{"during session", time.Date(2024, 3, 13, 14, 0, 0, 0, et), "2024-03-12"},
		{"after cutoff", time.Date(2024, 3, 13, 21, 0, 0, 0, et), "2024-03-13"},
		{"weekend", time.Date(2024, 3, 16, 12, 0, 0, 0, et), "2024-03-13"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := LatestFinishedTradingDay(cal, tt.now)
			if err != nil {
				t.Fatal(err)
			}
			if got.Format(time.DateOnly) != tt.want {
				t.Errorf("got %s, want %s", got.Format(time.DateOnly), tt.want)
			}
		})
	}

	if _, err := LatestFinishedTradingDay(fakeCalendar{}, time.Now()); err == nil {
		t.Error("expected error for empty calendar")
	}
}
