// Package regime classifies macro conditions into a four-state risk regime,
// precomputes a regime history for a date range and maps regimes onto
// portfolio overlay policies.
package regime

import (
	"math"

	"stockbt/internal/domain"
)

// Signal weights in the composite score. Renormalized over present signals.
const (
	WeightVolatility = 0.35
	WeightYieldCurve = 0.30
	WeightPolicyRate = 0.20
	WeightInflation  = 0.15
)

// Label thresholds.
const (
	CrisisComposite  = -0.6
	RiskOffComposite = -0.2
	RiskOnComposite  = 0.4
	CrisisVIX        = 40.0

	// Policy-rate rise over six months that forces the worst sub-score.
	TighteningShock = 1.0
)

// Data gap names recorded in RegimeResult.DataGaps.
const (
	GapVIX        = "vix"
	GapYieldCurve = "yield_curve"
	GapPolicyRate = "policy_rate"
	GapInflation  = "inflation"
)

// Detect converts a macro snapshot into a RegimeResult. Missing signals are
// reported as data gaps and excluded from the composite; Detect never fails.
func Detect(s domain.MacroSnapshot) domain.RegimeResult {
	var (
		sub      domain.RegimeSubScores
		gaps     []string
		weighted float64
		weights  float64
		present  int
	)

	add := func(score *float64, w float64, gap string) {
		if score == nil {
			gaps = append(gaps, gap)
			return
		}
		weighted += *score * w
		weights += w
		present++
	}

	sub.Volatility = scoreVIX(s.VIX)
	add(sub.Volatility, WeightVolatility, GapVIX)

	sub.YieldCurve = scoreYieldSpread(s.YieldSpread)
	add(sub.YieldCurve, WeightYieldCurve, GapYieldCurve)

	sub.PolicyRate = scorePolicyRate(s.PolicyRate, s.PolicyRate3MAgo, s.PolicyRate6MAgo)
	add(sub.PolicyRate, WeightPolicyRate, GapPolicyRate)

	sub.Inflation = scoreInflation(s.CPI, s.CPI12MAgo)
	add(sub.Inflation, WeightInflation, GapInflation)

	composite := 0.0
	if weights > 0 {
		composite = clamp(weighted/weights, -1, 1)
	}

	return domain.RegimeResult{
		Label:          label(composite, s.VIX),
		CompositeScore: composite,
		Confidence:     float64(present) / 4,
		SubScores:      sub,
		DataGaps:       gaps,
		AsOf:           s.Date,
	}
}

func label(composite float64, vix *float64) domain.RegimeLabel {
	switch {
	case composite < CrisisComposite || (vix != nil && *vix > CrisisVIX):
		return domain.RegimeCrisis
	case composite < RiskOffComposite:
		return domain.RegimeRiskOff
	case composite <= RiskOnComposite:
		return domain.RegimeNeutral
	default:
		return domain.RegimeRiskOn
	}
}

// ---------------------------------------------------------------------------
// Sub-score tables
// ---------------------------------------------------------------------------

func scoreVIX(vix *float64) *float64 {
	if !valid(vix) {
		return nil
	}
	v := *vix
	switch {
	case v < 15:
		return domain.Float(1.0)
	case v < 20:
		return domain.Float(0.5)
	case v < 25:
		return domain.Float(0)
	case v < 30:
		return domain.Float(-0.5)
	default:
		return domain.Float(-1.0)
	}
}

func scoreYieldSpread(spread *float64) *float64 {
	if !valid(spread) {
		return nil
	}
	v := *spread
	switch {
	case v > 1.5:
		return domain.Float(1.0)
	case v > 0.5:
		return domain.Float(0.5)
	case v > 0:
		return domain.Float(0)
	case v > -0.5:
		return domain.Float(-0.5)
	default:
		return domain.Float(-1.0)
	}
}

// scorePolicyRate scores rate momentum: falling rates are supportive, rising
// rates restrictive. The 6-month delta is used alone when the 3-month
// lookback is missing and vice versa.
func scorePolicyRate(now, ago3m, ago6m *float64) *float64 {
	if !valid(now) {
		return nil
	}
	var deltas []float64
	if valid(ago3m) {
		deltas = append(deltas, *now-*ago3m)
	}
	if valid(ago6m) {
		d6 := *now - *ago6m
		if d6 > TighteningShock {
			return domain.Float(-1.0)
		}
		deltas = append(deltas, d6)
	}
	if len(deltas) == 0 {
		return nil
	}
	var sum float64
	for _, d := range deltas {
		sum += d
	}
	delta := sum / float64(len(deltas))

	switch {
	case delta <= -0.5:
		return domain.Float(1.0)
	case delta <= -0.1:
		return domain.Float(0.5)
	case delta < 0.1:
		return domain.Float(0)
	case delta <= 0.5:
		return domain.Float(-0.5)
	default:
		return domain.Float(-1.0)
	}
}

// scoreInflation scores CPI year-over-year change in percent.
func scoreInflation(cpi, cpi12mAgo *float64) *float64 {
	if !valid(cpi) || !valid(cpi12mAgo) || *cpi12mAgo <= 0 {
		return nil
	}
	ratio := *cpi / *cpi12mAgo
	yoy := (ratio - 1) * 100
	switch {
	case yoy < 2:
		return domain.Float(1.0)
	case yoy < 3:
		return domain.Float(0.5)
	case yoy <= 5:
		return domain.Float(-0.5)
	default:
		return domain.Float(-1.0)
	}
}

func valid(v *float64) bool {
	return v != nil && !math.IsNaN(*v) && !math.IsInf(*v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
