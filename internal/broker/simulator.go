package broker

import (
	"context"
	"fmt"
	"sort"
	"time"

	"stockbt/internal/domain"
)

// Compile-time interface check.
var _ Broker = (*SimulatorBroker)(nil)

// SimulatorBroker implements the Broker interface for backtesting. It holds
// the portfolio in memory: whole-share long positions and non-negative cash.
// It is not safe for concurrent use; one simulation owns one broker.
type SimulatorBroker struct {
	cash      float64
	positions map[string]*domain.Position
	costs     CostModel
	totals    domain.CostTotals
}

// NewSimulatorBroker creates a broker funded with initialCash.
func NewSimulatorBroker(initialCash float64, costs CostModel) *SimulatorBroker {
	return &SimulatorBroker{
		cash:      initialCash,
		positions: make(map[string]*domain.Position),
		costs:     costs,
	}
}

// Name returns "simulator".
func (b *SimulatorBroker) Name() string {
	return "simulator"
}

// CostModel returns the model used to price fills.
func (b *SimulatorBroker) CostModel() CostModel { return b.costs }

// SubmitOrder fills the order at the reference price adjusted for slippage
// and charges transaction costs. Buys that would overdraw cash and sells of
// more shares than held are rejected.
func (b *SimulatorBroker) SubmitOrder(_ context.Context, order domain.Order) (domain.Fill, error) {
	if order.Qty <= 0 || order.Price <= 0 {
		return domain.Fill{}, fmt.Errorf("%w: %s %d %s @ %.4f", ErrInvalidOrder, order.Side, order.Qty, order.Symbol, order.Price)
	}

	fill := domain.Fill{
		Order:     order,
		FillPrice: b.costs.FillPrice(order.Side, order.Price),
		Notional:  float64(order.Qty) * order.Price,
	}
	gross := fill.FillPrice * float64(order.Qty)
	fill.Fee = gross*b.costs.txRate() + b.costs.FeePerTrade

	switch order.Side {
	case domain.OrderSideBuy:
		fill.Slippage = gross - fill.Notional
		fill.CashDelta = -(gross + fill.Fee)
		if b.cash+fill.CashDelta < -1e-9 {
			return domain.Fill{}, fmt.Errorf("%w: need %.2f, have %.2f", ErrInsufficientCash, -fill.CashDelta, b.cash)
		}
		b.applyBuy(order, fill)

	case domain.OrderSideSell:
		pos, ok := b.positions[order.Symbol]
		if !ok || pos.Shares < order.Qty {
			return domain.Fill{}, fmt.Errorf("%w: %s", ErrInsufficientShares, order.Symbol)
		}
		fill.Slippage = fill.Notional - gross
		fill.Fee = min(fill.Fee, gross)
		fill.CashDelta = gross - fill.Fee
		pos.Shares -= order.Qty
		if pos.Shares == 0 {
			delete(b.positions, order.Symbol)
		}

	default:
		return domain.Fill{}, fmt.Errorf("%w: side %q", ErrInvalidOrder, order.Side)
	}

	b.cash = max(b.cash+fill.CashDelta, 0)
	b.totals.SlippageCost += fill.Slippage
	b.totals.TransactionCost += fill.Fee
	b.totals.Trades++
	return fill, nil
}

func (b *SimulatorBroker) applyBuy(order domain.Order, fill domain.Fill) {
	pos, ok := b.positions[order.Symbol]
	if !ok {
		b.positions[order.Symbol] = &domain.Position{
			Symbol:     order.Symbol,
			Shares:     order.Qty,
			EntryPrice: fill.FillPrice,
			EntryDate:  order.Date,
		}
		return
	}
	total := pos.Shares + order.Qty
	pos.EntryPrice = (pos.EntryPrice*float64(pos.Shares) + fill.FillPrice*float64(order.Qty)) / float64(total)
	pos.Shares = total
}

// WriteOff removes a position that can no longer be traded, with zero
// proceeds and no costs. It returns the removed position.
func (b *SimulatorBroker) WriteOff(symbol string, _ time.Time) (domain.Position, bool) {
	pos, ok := b.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	delete(b.positions, symbol)
	return *pos, true
}

// GetPositions returns copies of all positions ordered by symbol.
func (b *SimulatorBroker) GetPositions(_ context.Context) ([]domain.Position, error) {
	return b.Positions(), nil
}

// Positions returns copies of all positions ordered by symbol.
func (b *SimulatorBroker) Positions() []domain.Position {
	out := make([]domain.Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Position returns the holding for symbol.
func (b *SimulatorBroker) Position(symbol string) (domain.Position, bool) {
	p, ok := b.positions[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *p, true
}

// Cash returns the uninvested balance.
func (b *SimulatorBroker) Cash() float64 { return b.cash }

// Costs returns the accumulated execution costs.
func (b *SimulatorBroker) Costs() domain.CostTotals { return b.totals }

// GetAccount returns the simulated account snapshot.
func (b *SimulatorBroker) GetAccount(_ context.Context) (*domain.AccountInfo, error) {
	return &domain.AccountInfo{Cash: b.cash, Costs: b.totals}, nil
}
