package strategy

import (
	"time"

	"stockbt/internal/domain"
)

// Compile-time interface checks.
var (
	_ Strategy = Momentum{}
	_ Strategy = Hybrid{}
	_ Strategy = LowVol{}
)

// ---------------------------------------------------------------------------
// Momentum
// ---------------------------------------------------------------------------

// MomentumSignals are produced by the momentum variant.
type MomentumSignals struct {
	Return13W      float64  `json:"return_13w"`
	Return26W      *float64 `json:"return_26w,omitempty"`
	Volatility     *float64 `json:"volatility,omitempty"`
	TechnicalScore float64  `json:"technical_score"`
	RiskScore      float64  `json:"risk_score"`
}

func (s MomentumSignals) Mode() Mode         { return ModeMomentum }
func (s MomentumSignals) Technical() float64 { return s.TechnicalScore }
func (s MomentumSignals) Risk() float64      { return s.RiskScore }

// Momentum ranks purely on trailing price returns.
type Momentum struct{}

func (Momentum) Name() Mode { return ModeMomentum }

func (Momentum) DefaultWeights() domain.PillarWeights {
	return domain.PillarWeights{Technical: 0.8, Risk: 0.2}
}

func (Momentum) UsesFundamentals() bool { return false }

func (Momentum) Evaluate(series *domain.PriceSeries, asOf time.Time) (Signals, SkipReason) {
	w, skip := readWindow(series, asOf)
	if skip != "" {
		return nil, skip
	}
	return momentumSignals(w), ""
}

func momentumSignals(w priceWindow) MomentumSignals {
	return MomentumSignals{
		Return13W:      w.r13,
		Return26W:      w.r26,
		Volatility:     w.vol,
		TechnicalScore: MomentumScore(w.r13, w.r26),
		RiskScore:      riskScore(w.vol),
	}
}

// ---------------------------------------------------------------------------
// Hybrid
// ---------------------------------------------------------------------------

// HybridSignals are produced by the hybrid variant. Price signals match
// momentum; valuation and quality come from fundamentals in the ranker.
type HybridSignals struct {
	MomentumSignals
}

func (s HybridSignals) Mode() Mode { return ModeHybrid }

// Hybrid blends momentum with fundamentals-driven valuation and quality.
type Hybrid struct{}

func (Hybrid) Name() Mode { return ModeHybrid }

func (Hybrid) DefaultWeights() domain.PillarWeights {
	return domain.PillarWeights{Valuation: 0.25, Quality: 0.25, Technical: 0.35, Risk: 0.15}
}

func (Hybrid) UsesFundamentals() bool { return true }

func (Hybrid) Evaluate(series *domain.PriceSeries, asOf time.Time) (Signals, SkipReason) {
	w, skip := readWindow(series, asOf)
	if skip != "" {
		return nil, skip
	}
	return HybridSignals{momentumSignals(w)}, ""
}

// ---------------------------------------------------------------------------
// Low volatility
// ---------------------------------------------------------------------------

// LowVolParams are the hard exclusion thresholds of the low-volatility
// variant. Zero disables a check.
type LowVolParams struct {
	MaxVolatility float64 `yaml:"max_volatility" json:"max_volatility" default:"0.6" validate:"gte=0"`
	SevereDecline float64 `yaml:"severe_decline" json:"severe_decline" default:"-0.3" validate:"lte=0"`
}

// DefaultLowVolParams returns the built-in exclusion thresholds.
func DefaultLowVolParams() LowVolParams {
	return LowVolParams{MaxVolatility: 0.6, SevereDecline: -0.3}
}

// LowVolSignals are produced by the low-volatility variant.
type LowVolSignals struct {
	Return13W      float64  `json:"return_13w"`
	Return26W      *float64 `json:"return_26w,omitempty"`
	Volatility     float64  `json:"volatility"`
	VolScore       float64  `json:"vol_score"`
	MomentumScore  float64  `json:"momentum_score"`
	TechnicalScore float64  `json:"technical_score"`
}

func (s LowVolSignals) Mode() Mode         { return ModeLowVol }
func (s LowVolSignals) Technical() float64 { return s.TechnicalScore }
func (s LowVolSignals) Risk() float64      { return s.VolScore }

// Technical blend of the low-volatility variant.
const (
	lowVolMomentumWeight = 0.4
	lowVolVolWeight      = 0.6
)

// LowVol favours stable names and hard-excludes volatile or collapsing ones.
type LowVol struct {
	params LowVolParams
}

// NewLowVol creates a low-volatility variant with the given exclusions.
func NewLowVol(p LowVolParams) LowVol { return LowVol{params: p} }

func (LowVol) Name() Mode { return ModeLowVol }

func (LowVol) DefaultWeights() domain.PillarWeights {
	return domain.PillarWeights{Technical: 0.6, Risk: 0.4}
}

func (LowVol) UsesFundamentals() bool { return false }

func (s LowVol) Evaluate(series *domain.PriceSeries, asOf time.Time) (Signals, SkipReason) {
	w, skip := readWindow(series, asOf)
	if skip != "" {
		return nil, skip
	}
	if w.vol == nil {
		return nil, SkipInsufficientVol
	}
	vol := *w.vol
	if s.params.MaxVolatility > 0 && vol > s.params.MaxVolatility {
		return nil, SkipVolatilityCeiling
	}
	if s.params.SevereDecline < 0 && w.r26 != nil && *w.r26 < s.params.SevereDecline {
		return nil, SkipSevereDecline
	}

	mom := MomentumScore(w.r13, w.r26)
	vs := VolScore(vol)
	return LowVolSignals{
		Return13W:      w.r13,
		Return26W:      w.r26,
		Volatility:     vol,
		VolScore:       vs,
		MomentumScore:  mom,
		TechnicalScore: lowVolMomentumWeight*mom + lowVolVolWeight*vs,
	}, ""
}
