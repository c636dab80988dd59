package broker

import (
	"fmt"
	"math"

	"stockbt/internal/domain"
)

// SlippageModel selects how fill prices deviate from the reference close.
type SlippageModel string

const (
	SlippageNone   SlippageModel = "none"
	SlippageFixed  SlippageModel = "fixed"
	SlippageTiered SlippageModel = "tiered"
)

// Tier is the execution aggressiveness used by the tiered model.
type Tier string

const (
	TierPassive    Tier = "passive"
	TierNormal     Tier = "normal"
	TierAggressive Tier = "aggressive"
)

// tierBps holds the per-side slippage in basis points for each tier.
var tierBps = map[Tier]struct{ buy, sell float64 }{
	TierPassive:    {buy: 2, sell: 1},
	TierNormal:     {buy: 5, sell: 3},
	TierAggressive: {buy: 15, sell: 10},
}

// CostModel prices simulated executions.
type CostModel struct {
	Slippage SlippageModel
	// FixedBps is the per-side slippage of the fixed model.
	FixedBps float64
	Tier     Tier
	// TransactionBps is charged on fill notional, both sides.
	TransactionBps float64
	// FeePerTrade is a flat charge per executed order.
	FeePerTrade float64
}

// Validate rejects unknown models and negative costs.
func (m CostModel) Validate() error {
	switch m.Slippage {
	case "", SlippageNone, SlippageFixed:
	case SlippageTiered:
		if _, ok := tierBps[m.Tier]; !ok {
			return fmt.Errorf("unknown slippage tier %q", m.Tier)
		}
	default:
		return fmt.Errorf("unknown slippage model %q", m.Slippage)
	}
	if m.FixedBps < 0 || m.TransactionBps < 0 || m.FeePerTrade < 0 {
		return fmt.Errorf("cost parameters must be non-negative")
	}
	return nil
}

// SlippageBps returns the slippage applied to an order side.
func (m CostModel) SlippageBps(side domain.OrderSide) float64 {
	switch m.Slippage {
	case SlippageFixed:
		return m.FixedBps
	case SlippageTiered:
		t := tierBps[m.Tier]
		if side == domain.OrderSideBuy {
			return t.buy
		}
		return t.sell
	default:
		return 0
	}
}

// FillPrice moves the reference price against the trader.
func (m CostModel) FillPrice(side domain.OrderSide, price float64) float64 {
	slip := m.SlippageBps(side) / 10_000
	if side == domain.OrderSideBuy {
		return price * (1 + slip)
	}
	return price * (1 - slip)
}

// txRate is the transaction cost as a fraction of notional.
func (m CostModel) txRate() float64 { return m.TransactionBps / 10_000 }

// MaxAffordableShares returns the most whole shares a budget buys at price,
// including slippage and transaction costs.
func (m CostModel) MaxAffordableShares(price, budget float64) int64 {
	if price <= 0 || budget <= m.FeePerTrade {
		return 0
	}
	unit := m.FillPrice(domain.OrderSideBuy, price) * (1 + m.txRate())
	qty := int64(math.Floor((budget - m.FeePerTrade) / unit))
	// Guard against rounding pushing the total a hair over budget.
	for qty > 0 && m.BuyCost(price, qty) > budget {
		qty--
	}
	return max(qty, 0)
}

// BuyCost is the total cash a buy of qty shares consumes.
func (m CostModel) BuyCost(price float64, qty int64) float64 {
	fill := m.FillPrice(domain.OrderSideBuy, price)
	gross := fill * float64(qty)
	return gross + gross*m.txRate() + m.FeePerTrade
}
