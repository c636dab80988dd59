package domain

import "time"

// Macro series identifiers (FRED ids).
const (
	SeriesVIX         = "VIXCLS"
	SeriesYieldSpread = "T10Y2Y"
	SeriesPolicyRate  = "FEDFUNDS"
	SeriesCPI         = "CPIAUCSL"
	SeriesTreasury10Y = "DGS10"
)

// MacroSeriesIDs lists every series gathered for regime detection. DGS10 is
// stored for reference but not scored.
var MacroSeriesIDs = []string{SeriesVIX, SeriesYieldSpread, SeriesPolicyRate, SeriesCPI, SeriesTreasury10Y}

// MacroObservation is one dated value of a macro series.
type MacroObservation struct {
	SeriesID string    `json:"series_id"`
	Date     time.Time `json:"date"`
	Value    float64   `json:"value"`
}

// MacroSnapshot is the set of macro inputs resolved for one date. Nil fields
// are gaps. Policy-rate and CPI lookbacks are resolved by the history builder.
type MacroSnapshot struct {
	Date            time.Time `json:"date"`
	VIX             *float64  `json:"vix,omitempty"`
	YieldSpread     *float64  `json:"yield_spread,omitempty"`
	PolicyRate      *float64  `json:"policy_rate,omitempty"`
	PolicyRate3MAgo *float64  `json:"policy_rate_3m_ago,omitempty"`
	PolicyRate6MAgo *float64  `json:"policy_rate_6m_ago,omitempty"`
	CPI             *float64  `json:"cpi,omitempty"`
	CPI12MAgo       *float64  `json:"cpi_12m_ago,omitempty"`
}

// RegimeLabel is the discrete macro-risk classification.
type RegimeLabel string

const (
	RegimeRiskOn  RegimeLabel = "RISK_ON"
	RegimeNeutral RegimeLabel = "NEUTRAL"
	RegimeRiskOff RegimeLabel = "RISK_OFF"
	RegimeCrisis  RegimeLabel = "CRISIS"
)

// RegimeLabels lists labels from most to least risk-seeking.
var RegimeLabels = []RegimeLabel{RegimeRiskOn, RegimeNeutral, RegimeRiskOff, RegimeCrisis}

// RegimeSubScores holds the per-signal scores in [-1, 1]. Nil means the
// signal was unavailable.
type RegimeSubScores struct {
	Volatility *float64 `json:"volatility,omitempty"`
	YieldCurve *float64 `json:"yield_curve,omitempty"`
	PolicyRate *float64 `json:"policy_rate,omitempty"`
	Inflation  *float64 `json:"inflation,omitempty"`
}

// RegimeResult is the detector output for one date.
type RegimeResult struct {
	Label          RegimeLabel     `json:"label"`
	CompositeScore float64         `json:"composite_score"`
	Confidence     float64         `json:"confidence"`
	SubScores      RegimeSubScores `json:"sub_scores"`
	DataGaps       []string        `json:"data_gaps,omitempty"`
	AsOf           time.Time       `json:"as_of"`
}
