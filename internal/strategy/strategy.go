// Package strategy defines the ranking strategy variants and a Registry for
// looking them up by mode name. Each variant turns a price series into its own
// signal record, which the ranker combines with fundamentals.
package strategy

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"stockbt/internal/domain"
)

// Mode names a strategy variant.
type Mode string

const (
	ModeMomentum Mode = "momentum"
	ModeHybrid   Mode = "hybrid"
	ModeLowVol   Mode = "lowvol"
)

var modeAliases = map[string]Mode{
	"low-volatility": ModeLowVol,
	"low_volatility": ModeLowVol,
	"low-vol":        ModeLowVol,
}

// ParseMode returns the canonical mode for name, accepting the long
// spellings of the low-volatility variant. Unknown names come back
// lowercased but otherwise unchanged.
func ParseMode(name string) Mode {
	n := strings.ToLower(strings.TrimSpace(name))
	if m, ok := modeAliases[n]; ok {
		return m
	}
	return Mode(n)
}

// SkipReason explains why a symbol could not be scored on a date. The empty
// reason means the symbol was scored.
type SkipReason string

const (
	SkipNoHistory           SkipReason = "no_history"
	SkipInsufficientHistory SkipReason = "insufficient_history"
	SkipInsufficientVol     SkipReason = "insufficient_volatility_history"
	SkipVolatilityCeiling   SkipReason = "volatility_ceiling"
	SkipSevereDecline       SkipReason = "severe_decline"
)

// Signals is the price-derived output of one strategy variant. The concrete
// type is one of MomentumSignals, HybridSignals or LowVolSignals.
type Signals interface {
	Mode() Mode
	// Technical is the technical pillar score, 0-100.
	Technical() float64
	// Risk is the risk pillar score, 0-100.
	Risk() float64
}

// Strategy is a ranking strategy variant.
type Strategy interface {
	// Name returns the mode the strategy is registered under.
	Name() Mode

	// DefaultWeights are the pillar weights used when the run configures none.
	DefaultWeights() domain.PillarWeights

	// UsesFundamentals reports whether the valuation and quality pillars
	// need a fundamentals fetch.
	UsesFundamentals() bool

	// Evaluate derives signals from the bars dated on or before asOf.
	Evaluate(series *domain.PriceSeries, asOf time.Time) (Signals, SkipReason)
}

// Registry holds a named collection of strategies for lookup and enumeration.
type Registry struct {
	strategies map[Mode]Strategy
}

// NewRegistry creates an empty strategy Registry.
func NewRegistry() *Registry {
	return &Registry{
		strategies: make(map[Mode]Strategy),
	}
}

// Default returns a registry holding the three built-in variants.
func Default(lv LowVolParams) *Registry {
	r := NewRegistry()
	r.Register(Momentum{})
	r.Register(Hybrid{})
	r.Register(NewLowVol(lv))
	return r
}

// Register adds a strategy to the registry, keyed by its Name().
func (r *Registry) Register(s Strategy) {
	r.strategies[s.Name()] = s
}

// Get retrieves a strategy by name or alias.
func (r *Registry) Get(name Mode) (Strategy, bool) {
	s, ok := r.strategies[ParseMode(string(name))]
	return s, ok
}

// Resolve is Get with a descriptive error for unknown modes.
func (r *Registry) Resolve(name Mode) (Strategy, error) {
	s, ok := r.Get(name)
	if !ok {
		return nil, fmt.Errorf("unknown strategy mode %q (have %v)", name, r.List())
	}
	return s, nil
}

// List returns a sorted slice of all registered strategy names.
func (r *Registry) List() []Mode {
	names := make([]Mode, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}
