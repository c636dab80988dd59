package ranking

import (
	"math"

	"stockbt/internal/domain"
)

// Band is a low/high threshold pair. Values at or beyond Best score 100,
// at or beyond Worst score 0, linear in between.
type Band struct {
	Best  float64 `yaml:"best" json:"best"`
	Worst float64 `yaml:"worst" json:"worst"`
}

// Score maps v onto 0-100 within the band.
func (b Band) Score(v float64) float64 {
	if b.Best == b.Worst {
		return neutral
	}
	frac := (v - b.Worst) / (b.Best - b.Worst)
	return math.Max(0, math.Min(100, frac*100))
}

// Thresholds configures the valuation and quality pillars.
type Thresholds struct {
	PE           Band `yaml:"pe" json:"pe"`
	PB           Band `yaml:"pb" json:"pb"`
	PS           Band `yaml:"ps" json:"ps"`
	ROE          Band `yaml:"roe" json:"roe"`
	DebtToEquity Band `yaml:"debt_to_equity" json:"debt_to_equity"`
}

// DefaultThresholds are the built-in pillar bands.
func DefaultThresholds() Thresholds {
	return Thresholds{
		PE:           Band{Best: 10, Worst: 35},
		PB:           Band{Best: 1, Worst: 6},
		PS:           Band{Best: 1, Worst: 8},
		ROE:          Band{Best: 0.20, Worst: 0},
		DebtToEquity: Band{Best: 0.3, Worst: 2.0},
	}
}

const neutral = 50.0

// ValuationScore averages the P/E, P/B and P/S band scores. Absent or
// non-positive ratios contribute the neutral 50.
func ValuationScore(f *domain.Fundamentals, t Thresholds) float64 {
	if f == nil {
		return neutral
	}
	return mean(
		positiveBand(f.PE, t.PE),
		positiveBand(f.PB, t.PB),
		positiveBand(f.PS, t.PS),
	)
}

// QualityScore averages the ROE and debt/equity band scores. Absent values
// contribute the neutral 50.
func QualityScore(f *domain.Fundamentals, t Thresholds) float64 {
	if f == nil {
		return neutral
	}
	roe := neutral
	if f.ROE != nil {
		roe = t.ROE.Score(*f.ROE)
	}
	de := neutral
	if f.DebtToEquity != nil && *f.DebtToEquity >= 0 {
		de = t.DebtToEquity.Score(*f.DebtToEquity)
	}
	return mean(roe, de)
}

func positiveBand(v *float64, b Band) float64 {
	if v == nil || *v <= 0 {
		return neutral
	}
	return b.Score(*v)
}

func mean(xs ...float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// ---------------------------------------------------------------------------
// Filters
// ---------------------------------------------------------------------------

// Filters drop candidates after scoring. Zero disables a filter. A filter on
// a fundamentals field that is absent from a fetched record passes.
type Filters struct {
	MaxDebtToEquity   float64 `yaml:"max_debt_to_equity" json:"max_debt_to_equity" validate:"gte=0"`
	MaxPEG            float64 `yaml:"max_peg" json:"max_peg" validate:"gte=0"`
	MinDividendYield  float64 `yaml:"min_dividend_yield" json:"min_dividend_yield" validate:"gte=0"`
	MaxPayoutRatio    float64 `yaml:"max_payout_ratio" json:"max_payout_ratio" validate:"gte=0"`
	MinMarketCap      float64 `yaml:"min_market_cap" json:"min_market_cap" validate:"gte=0"`
	MinROE            float64 `yaml:"min_roe" json:"min_roe"`
	MinValuationScore float64 `yaml:"min_valuation_score" json:"min_valuation_score" validate:"gte=0,lte=100"`
	MinQualityScore   float64 `yaml:"min_quality_score" json:"min_quality_score" validate:"gte=0,lte=100"`
	MinTechnicalScore float64 `yaml:"min_technical_score" json:"min_technical_score" validate:"gte=0,lte=100"`
	MinRiskScore      float64 `yaml:"min_risk_score" json:"min_risk_score" validate:"gte=0,lte=100"`
}

// NeedsFundamentals reports whether any fundamentals-based filter is active.
func (f Filters) NeedsFundamentals() bool {
	return f.MaxDebtToEquity > 0 || f.MaxPEG > 0 || f.MinDividendYield > 0 ||
		f.MaxPayoutRatio > 0 || f.MinMarketCap > 0 || f.MinROE != 0 ||
		f.MinValuationScore > 0 || f.MinQualityScore > 0
}

// Drop reasons tallied in Result.Dropped.
const (
	DropDebtToEquity  = "max_debt_to_equity"
	DropPEG           = "max_peg"
	DropDividendYield = "min_dividend_yield"
	DropPayoutRatio   = "max_payout_ratio"
	DropMarketCap     = "min_market_cap"
	DropROE           = "min_roe"
	DropValuation     = "min_valuation_score"
	DropQuality       = "min_quality_score"
	DropTechnical     = "min_technical_score"
	DropRisk          = "min_risk_score"

	DropNoFundamentals = "no_fundamentals"
	DropNotFetched     = "fundamentals_not_fetched"
)

// check returns the first failed filter, or "". With fundamentals filters
// active, a candidate whose lookup timed out or failed passes them, while one
// with no record or outside the fetched top-K fails. An empty status means no
// provider was consulted and fundamentals filters do not apply.
func (f Filters) check(p domain.PillarScores, fund *domain.Fundamentals, status FetchStatus) string {
	if f.MinTechnicalScore > 0 && p.Technical < f.MinTechnicalScore {
		return DropTechnical
	}
	if f.MinRiskScore > 0 && p.Risk < f.MinRiskScore {
		return DropRisk
	}
	if !f.NeedsFundamentals() {
		return ""
	}
	switch status {
	case "", FetchTimedOut, FetchFailed:
		return ""
	case FetchSkipped:
		return DropNotFetched
	case FetchMissing:
		return DropNoFundamentals
	}
	if fund == nil {
		return DropNoFundamentals
	}
	if f.MinValuationScore > 0 && p.Valuation < f.MinValuationScore {
		return DropValuation
	}
	if f.MinQualityScore > 0 && p.Quality < f.MinQualityScore {
		return DropQuality
	}
	if f.MaxDebtToEquity > 0 && fund.DebtToEquity != nil && *fund.DebtToEquity > f.MaxDebtToEquity {
		return DropDebtToEquity
	}
	if f.MaxPEG > 0 && fund.PEG != nil && *fund.PEG > 0 && *fund.PEG > f.MaxPEG {
		return DropPEG
	}
	if f.MinDividendYield > 0 && fund.DividendYield != nil && *fund.DividendYield < f.MinDividendYield {
		return DropDividendYield
	}
	if f.MaxPayoutRatio > 0 && fund.PayoutRatio != nil && *fund.PayoutRatio > f.MaxPayoutRatio {
		return DropPayoutRatio
	}
	if f.MinMarketCap > 0 && fund.MarketCap != nil && *fund.MarketCap < f.MinMarketCap {
		return DropMarketCap
	}
	if f.MinROE != 0 && fund.ROE != nil && *fund.ROE < f.MinROE {
		return DropROE
	}
	return ""
}
