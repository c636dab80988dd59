// Package domain holds the plain data types shared by the backtesting
// components: bars and price series, fundamentals, macro observations, regime
// results, orders and positions, and the append-only simulation records.
package domain

import (
	"time"
)

// Market identifies the exchange group a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
)

// Bar is a single daily OHLCV bar.
type Bar struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Open       float64   `json:"open"`
	High       float64   `json:"high"`
	Low        float64   `json:"low"`
	Close      float64   `json:"close"`
	Volume     int64     `json:"volume"`
	TradeCount int64     `json:"trade_count"`
	VWAP       float64   `json:"vwap"`
}

// Fundamentals holds point-in-time ratios for a symbol. Nil fields are
// unknown.
type Fundamentals struct {
	Symbol        string    `json:"symbol"`
	AsOf          time.Time `json:"as_of"`
	PE            *float64  `json:"pe,omitempty"`
	PB            *float64  `json:"pb,omitempty"`
	PS            *float64  `json:"ps,omitempty"`
	PEG           *float64  `json:"peg,omitempty"`
	ROE           *float64  `json:"roe,omitempty"`
	DebtToEquity  *float64  `json:"debt_to_equity,omitempty"`
	DividendYield *float64  `json:"dividend_yield,omitempty"`
	PayoutRatio   *float64  `json:"payout_ratio,omitempty"`
	MarketCap     *float64  `json:"market_cap,omitempty"`
}

// Float returns a pointer to v. Handy for building Fundamentals and
// MacroSnapshot literals.
func Float(v float64) *float64 { return &v }

// OrderSide is the direction of a simulated trade.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Order is a simulated market-on-close order.
type Order struct {
	Symbol string    `json:"symbol"`
	Side   OrderSide `json:"side"`
	Qty    int64     `json:"qty"`
	Price  float64   `json:"price"` // reference close before costs
	Date   time.Time `json:"date"`
	Reason string    `json:"reason,omitempty"`
}

// Fill is the executed outcome of an Order after the cost model is applied.
type Fill struct {
	Order     Order   `json:"order"`
	FillPrice float64 `json:"fill_price"`
	Notional  float64 `json:"notional"` // Qty * reference price
	Slippage  float64 `json:"slippage"` // currency cost of slippage
	Fee       float64 `json:"fee"`      // currency transaction cost
	CashDelta float64 `json:"cash_delta"`
}

// Position is a long holding of whole shares.
type Position struct {
	Symbol     string    `json:"symbol"`
	Shares     int64     `json:"shares"`
	EntryPrice float64   `json:"entry_price"`
	EntryDate  time.Time `json:"entry_date"`
}

// AccountInfo is a snapshot of the simulated account.
type AccountInfo struct {
	Cash  float64    `json:"cash"`
	Costs CostTotals `json:"costs"`
}

// CostTotals accumulates execution costs over a run.
type CostTotals struct {
	SlippageCost    float64 `json:"slippage_cost"`
	TransactionCost float64 `json:"transaction_cost"`
	Trades          int     `json:"trades"`
}

// AvgSlippagePerTrade returns the mean slippage cost per executed trade.
func (c CostTotals) AvgSlippagePerTrade() float64 {
	if c.Trades == 0 {
		return 0
	}
	return c.SlippageCost / float64(c.Trades)
}
