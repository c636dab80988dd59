package regime

import "stockbt/internal/domain"

// Policy is the per-rebalance adjustment derived from the regime label.
type Policy struct {
	InvestableFraction float64 `yaml:"investable_fraction" json:"investable_fraction" validate:"gte=0,lte=1"`
	TechnicalBoost     float64 `yaml:"technical_boost" json:"technical_boost"`
	QualityBoost       float64 `yaml:"quality_boost" json:"quality_boost"`
	RiskBoost          float64 `yaml:"risk_boost" json:"risk_boost"`
	MinQualityFloor    float64 `yaml:"min_quality_floor" json:"min_quality_floor" validate:"gte=0,lte=100"`
}

// Identity leaves weights and filters untouched and invests all cash.
var Identity = Policy{InvestableFraction: 1.0}

// DefaultPolicies is the built-in label-to-policy table.
func DefaultPolicies() map[domain.RegimeLabel]Policy {
	return map[domain.RegimeLabel]Policy{
		domain.RegimeRiskOn:  {InvestableFraction: 1.0, TechnicalBoost: 0.10},
		domain.RegimeNeutral: Identity,
		domain.RegimeRiskOff: {InvestableFraction: 0.7, QualityBoost: 0.10, RiskBoost: 0.10},
		domain.RegimeCrisis:  {InvestableFraction: 0.4, QualityBoost: 0.15, RiskBoost: 0.15, MinQualityFloor: 60},
	}
}

// Overlay maps regime labels to policies.
type Overlay struct {
	enabled  bool
	policies map[domain.RegimeLabel]Policy
}

// NewOverlay returns an Overlay. Labels missing from policies fall back to
// the built-in table; a nil map uses the built-in table throughout.
func NewOverlay(enabled bool, policies map[domain.RegimeLabel]Policy) Overlay {
	merged := DefaultPolicies()
	for l, p := range policies {
		merged[l] = p
	}
	return Overlay{enabled: enabled, policies: merged}
}

// Enabled reports whether the overlay adjusts anything.
func (o Overlay) Enabled() bool { return o.enabled }

// PolicyFor returns the policy for label. Disabled overlays and unknown
// labels yield Identity.
func (o Overlay) PolicyFor(label domain.RegimeLabel) Policy {
	if !o.enabled {
		return Identity
	}
	p, ok := o.policies[label]
	if !ok {
		return Identity
	}
	return p
}

// ApplyWeights adds the policy boosts to base and renormalizes to sum to 1.
func (p Policy) ApplyWeights(base domain.PillarWeights) domain.PillarWeights {
	w := base
	w.Technical += p.TechnicalBoost
	w.Quality += p.QualityBoost
	w.Risk += p.RiskBoost
	n := w.Normalize()
	if n.IsZero() {
		return base.Normalize()
	}
	return n
}

// ApplyMinQuality raises a base minimum-quality filter to the policy floor.
func (p Policy) ApplyMinQuality(base float64) float64 {
	return max(base, p.MinQualityFloor)
}
