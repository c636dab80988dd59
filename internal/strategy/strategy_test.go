package strategy

import (
	"math"
	"testing"
	"time"

	"stockbt/internal/domain"
)

var t0 = time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)

// series builds a daily series from closes, one bar per calendar day.
func series(t *testing.T, closes []float64) *domain.PriceSeries {
	t.Helper()
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Symbol: "T", Timestamp: t0.AddDate(0, 0, i), Close: c}
	}
	ps, err := domain.NewPriceSeries("T", bars)
	if err != nil {
		t.Fatalf("NewPriceSeries: %v", err)
	}
	return ps
}

func flat(n int, v float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

// lastDay returns the date of the final bar of an n-bar series.
func lastDay(n int) time.Time { return t0.AddDate(0, 0, n-1) }

func TestRegistryRegisterAndGet(t *testing.T) {
	r := Default(LowVolParams{})

	for _, m := range []Mode{ModeMomentum, ModeHybrid, ModeLowVol} {
		s, ok := r.Get(m)
		if !ok {
			t.Fatalf("Get(%q) returned false", m)
		}
		if s.Name() != m {
			t.Errorf("Get(%q).Name() = %q", m, s.Name())
		}
	}

	if _, err := r.Resolve("value"); err == nil {
		t.Error("Resolve of unknown mode should fail")
	}
}

func TestRegistryResolvesLowVolatilityAliases(t *testing.T) {
	r := Default(LowVolParams{})
	for _, name := range []Mode{"low-volatility", "Low_Volatility", "lowvol"} {
		s, err := r.Resolve(name)
		if err != nil {
			t.Fatalf("Resolve(%q) error: %v", name, err)
		}
		if s.Name() != ModeLowVol {
			t.Errorf("Resolve(%q).Name() = %q, want %q", name, s.Name(), ModeLowVol)
		}
	}
	if got := ParseMode("HYBRID"); got != ModeHybrid {
		t.Errorf("ParseMode(HYBRID) = %q, want %q", got, ModeHybrid)
	}
}

func TestRegistryList(t *testing.T) {
	r := Default(LowVolParams{})
	got := r.List()
	want := []Mode{ModeHybrid, ModeLowVol, ModeMomentum}
	if len(got) != len(want) {
		t.Fatalf("List() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("List()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDefaultWeightsSumToOne(t *testing.T) {
	for _, s := range []Strategy{Momentum{}, Hybrid{}, NewLowVol(LowVolParams{})} {
		if got := s.DefaultWeights().Sum(); math.Abs(got-1) > 1e-12 {
			t.Errorf("%s default weights sum to %v", s.Name(), got)
		}
	}
}

func TestEvaluateSkipsShortHistory(t *testing.T) {
	m := Momentum{}

	empty, _ := domain.NewPriceSeries("E", nil)
	if _, skip := m.Evaluate(empty, t0); skip != SkipNoHistory {
		t.Errorf("empty series skip = %q, want %q", skip, SkipNoHistory)
	}

	short := series(t, flat(59, 10))
	if _, skip := m.Evaluate(short, lastDay(59)); skip != SkipInsufficientHistory {
		t.Errorf("59 bars skip = %q, want %q", skip, SkipInsufficientHistory)
	}

	// Bars after asOf do not count.
	long := series(t, flat(200, 10))
	if _, skip := m.Evaluate(long, lastDay(30)); skip != SkipInsufficientHistory {
		t.Errorf("as-of cut skip = %q, want %q", skip, SkipInsufficientHistory)
	}
}

func TestThirteenWeekReturnShortensBelowFullWindow(t *testing.T) {
	// 61 bars: the first close is 80, everything after is 100.
	closes := flat(MinHistoryDays+1, 100)
	closes[0] = 80
	w, skip := readWindow(series(t, closes), t0.AddDate(0, 0, len(closes)-1))
	if skip != "" {
		t.Fatalf("skip = %q, want scored", skip)
	}
	if math.Abs(w.r13-0.25) > 1e-12 {
		t.Errorf("r13 = %v, want 0.25 from the first close", w.r13)
	}

	// With a full window the first close drops out.
	closes = flat(Lookback13W+2, 100)
	closes[0] = 80
	w, _ = readWindow(series(t, closes), t0.AddDate(0, 0, len(closes)-1))
	if w.r13 != 0 {
		t.Errorf("r13 = %v, want 0 over a full 13-week window", w.r13)
	}
}

func TestMomentumWithout26WeekReturn(t *testing.T) {
	closes := flat(100, 100)
	closes[99] = 110
	sig, skip := Momentum{}.Evaluate(series(t, closes), lastDay(100))
	if skip != "" {
		t.Fatalf("unexpected skip %q", skip)
	}
	ms := sig.(MomentumSignals)
	if ms.Return26W != nil {
		t.Errorf("Return26W = %v, want nil with 100 bars", *ms.Return26W)
	}
	if math.Abs(ms.Return13W-0.10) > 1e-9 {
		t.Errorf("Return13W = %v, want 0.10", ms.Return13W)
	}
	if math.Abs(ms.TechnicalScore-60) > 1e-9 {
		t.Errorf("TechnicalScore = %v, want 60", ms.TechnicalScore)
	}
}

func TestMomentumBlends26WeekReturn(t *testing.T) {
	closes := flat(130, 100)
	// 126 bars back from the last is index 3; 63 back is index 66.
	for i := 66; i < 130; i++ {
		closes[i] = 120
	}
	for i := 0; i < 4; i++ {
		closes[i] = 80
	}
	sig, _ := Momentum{}.Evaluate(series(t, closes), lastDay(130))
	ms := sig.(MomentumSignals)
	if ms.Return26W == nil {
		t.Fatal("Return26W should be set with 130 bars")
	}
	// r13 = 120/120-1 = 0; r26 = 120/80-1 = 0.5; blended 0.25.
	if math.Abs(ms.TechnicalScore-75) > 1e-9 {
		t.Errorf("TechnicalScore = %v, want 75", ms.TechnicalScore)
	}
}

func TestFlatSeriesHasMaxRiskScore(t *testing.T) {
	sig, _ := Momentum{}.Evaluate(series(t, flat(80, 50)), lastDay(80))
	if sig.Risk() != 100 {
		t.Errorf("Risk() = %v, want 100 for zero volatility", sig.Risk())
	}
}

func TestVolScoreBreakpoints(t *testing.T) {
	cases := []struct{ vol, want float64 }{
		{0.05, 100},
		{0.15, 100},
		{0.20, 87.5},
		{0.40, 40},
		{0.50, 25},
		{0.80, 0},
		{1.50, 0},
	}
	for _, c := range cases {
		if got := VolScore(c.vol); math.Abs(got-c.want) > 1e-9 {
			t.Errorf("VolScore(%v) = %v, want %v", c.vol, got, c.want)
		}
	}
}

// zigzag alternates up and down moves of the given size around 100.
func zigzag(n int, move float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		if i%2 == 0 {
			out[i] = 100
		} else {
			out[i] = 100 * (1 + move)
		}
	}
	return out
}

func TestLowVolExclusions(t *testing.T) {
	lv := NewLowVol(LowVolParams{MaxVolatility: 0.60, SevereDecline: -0.30})

	// Daily swings of ~5% annualize far above 60%.
	if _, skip := lv.Evaluate(series(t, zigzag(100, 0.05)), lastDay(100)); skip != SkipVolatilityCeiling {
		t.Errorf("volatile series skip = %q, want %q", skip, SkipVolatilityCeiling)
	}

	closes := flat(140, 100)
	for i := 20; i < 140; i++ {
		closes[i] = 60
	}
	if _, skip := lv.Evaluate(series(t, closes), lastDay(140)); skip != SkipSevereDecline {
		t.Errorf("declining series skip = %q, want %q", skip, SkipSevereDecline)
	}

	sig, skip := lv.Evaluate(series(t, flat(100, 100)), lastDay(100))
	if skip != "" {
		t.Fatalf("stable series skipped: %q", skip)
	}
	ls := sig.(LowVolSignals)
	// Momentum 50, vol score 100 -> 0.4*50 + 0.6*100.
	if math.Abs(ls.TechnicalScore-80) > 1e-9 {
		t.Errorf("TechnicalScore = %v, want 80", ls.TechnicalScore)
	}
	if sig.Mode() != ModeLowVol {
		t.Errorf("Mode() = %q", sig.Mode())
	}
}

func TestHybridSignalsCarryMode(t *testing.T) {
	sig, _ := Hybrid{}.Evaluate(series(t, flat(70, 10)), lastDay(70))
	if sig.Mode() != ModeHybrid {
		t.Errorf("Mode() = %q, want %q", sig.Mode(), ModeHybrid)
	}
	if !(Hybrid{}).UsesFundamentals() {
		t.Error("hybrid should use fundamentals")
	}
}
