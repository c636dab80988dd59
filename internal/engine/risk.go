package engine

import (
	"stockbt/internal/broker"
)

// RiskManager sizes new positions. It caps the cash put to work at the
// regime's investable fraction and splits it equally across new buys.
type RiskManager struct {
	costs broker.CostModel
}

// NewRiskManager creates a RiskManager pricing orders with costs.
func NewRiskManager(costs broker.CostModel) *RiskManager {
	return &RiskManager{costs: costs}
}

// SlotBudget returns the cash allotted to each of n new buys.
//
//   - cash: uninvested balance after sells.
//   - fraction: investable fraction in [0, 1]; values outside are clamped.
func (rm *RiskManager) SlotBudget(cash, fraction float64, n int) float64 {
	if n <= 0 || cash <= 0 {
		return 0
	}
	fraction = min(max(fraction, 0), 1)
	return cash * fraction / float64(n)
}

// SizeOrder returns the whole shares a slot budget buys at price after
// slippage and transaction costs.
func (rm *RiskManager) SizeOrder(price, budget float64) int64 {
	return rm.costs.MaxAffordableShares(price, budget)
}
