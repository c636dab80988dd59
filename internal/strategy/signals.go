package strategy

import (
	"math"
	"time"

	"stockbt/internal/domain"
)

// Window sizes in trading days. A symbol is scored from MinHistoryDays bars,
// before a full Lookback13W window exists; with 60 to 63 bars the 13-week
// return runs from the first available close instead.
const (
	MinHistoryDays     = 60
	Lookback13W        = 63
	Lookback26W        = 126
	VolatilityWindow   = 90
	MinVolReturns      = 10
	TradingDaysPerYear = 252
)

// NeutralScore is the pillar score used when a signal is unavailable.
const NeutralScore = 50.0

// volBreakpoints maps annualized volatility to a 0-100 score. Linear between
// points, flat outside.
var volBreakpoints = []struct{ vol, score float64 }{
	{0.15, 100},
	{0.25, 75},
	{0.40, 40},
	{0.60, 10},
	{0.80, 0},
}

// VolScore converts annualized volatility into a risk score; lower
// volatility scores higher.
func VolScore(vol float64) float64 {
	first, last := volBreakpoints[0], volBreakpoints[len(volBreakpoints)-1]
	if vol <= first.vol {
		return first.score
	}
	if vol >= last.vol {
		return last.score
	}
	for i := 1; i < len(volBreakpoints); i++ {
		lo, hi := volBreakpoints[i-1], volBreakpoints[i]
		if vol <= hi.vol {
			frac := (vol - lo.vol) / (hi.vol - lo.vol)
			return lo.score + frac*(hi.score-lo.score)
		}
	}
	return last.score
}

// MomentumScore maps a 13-week return and optional 26-week return onto 0-100.
// The two returns are averaged when both exist.
func MomentumScore(r13 float64, r26 *float64) float64 {
	blended := r13
	if r26 != nil {
		blended = (r13 + *r26) / 2
	}
	return clampScore(NeutralScore + 100*blended)
}

// priceWindow holds the closes and derived returns shared by every variant.
type priceWindow struct {
	r13 float64
	r26 *float64
	vol *float64
}

// readWindow extracts the common signals from closes on or before asOf.
func readWindow(series *domain.PriceSeries, asOf time.Time) (priceWindow, SkipReason) {
	closes := series.ClosesThrough(asOf)
	n := len(closes)
	if n == 0 {
		return priceWindow{}, SkipNoHistory
	}
	if n < MinHistoryDays {
		return priceWindow{}, SkipInsufficientHistory
	}

	last := closes[n-1]
	// Shortened to n-1 bars while the series is below a full 13 weeks.
	lb := min(Lookback13W, n-1)
	base := closes[n-1-lb]
	if base <= 0 || last <= 0 {
		return priceWindow{}, SkipInsufficientHistory
	}
	w := priceWindow{r13: last/base - 1}

	if n-1 >= Lookback26W {
		if b := closes[n-1-Lookback26W]; b > 0 {
			r26 := last/b - 1
			w.r26 = &r26
		}
	}
	w.vol = realizedVol(closes, VolatilityWindow)
	return w, ""
}

// realizedVol is the annualized standard deviation of simple daily returns
// over the trailing window. Nil when fewer than MinVolReturns returns exist.
func realizedVol(closes []float64, window int) *float64 {
	start := max(0, len(closes)-window-1)
	tail := closes[start:]
	returns := make([]float64, 0, len(tail))
	for i := 1; i < len(tail); i++ {
		if tail[i-1] <= 0 {
			continue
		}
		returns = append(returns, tail[i]/tail[i-1]-1)
	}
	if len(returns) < MinVolReturns {
		return nil
	}
	sd := stdev(returns)
	v := sd * math.Sqrt(TradingDaysPerYear)
	return &v
}

func stdev(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	var ss float64
	for _, x := range xs {
		ss += (x - mean) * (x - mean)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// riskScore is the volatility score, or neutral when volatility is unknown.
func riskScore(vol *float64) float64 {
	if vol == nil {
		return NeutralScore
	}
	return VolScore(*vol)
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
