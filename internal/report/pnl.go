package report

import (
	"github.com/shopspring/decimal"

	"github.com/exchange/lob/internal/orderbook"
)

// Position tracks cash, inventory and P&L for the trades of a set of orders,
// using average cost. Each trade id is applied at most once.
type Position struct {
	Cash     decimal.Decimal `json:"cash"`
	Qty      int64           `json:"qty"`
	AvgCost  decimal.Decimal `json:"avgCost"`
	Realized decimal.Decimal `json:"realized"`

	pricer  Pricer
	owned   map[int64]struct{}
	applied map[int64]struct{}
}

func NewPosition(cash decimal.Decimal, p Pricer) *Position {
	return &Position{
		Cash:    cash,
		pricer:  p,
		owned:   make(map[int64]struct{}),
		applied: make(map[int64]struct{}),
	}
}

// Track marks an order id as belonging to this position.
func (ps *Position) Track(orderID int64) {
	ps.owned[orderID] = struct{}{}
}

func (ps *Position) Tracks(orderID int64) bool {
	_, ok := ps.owned[orderID]
	return ok
}

// ApplyAll applies every unseen trade of a tracked order and returns how many
// were applied.
func (ps *Position) ApplyAll(trades []orderbook.Trade) int {
	n := 0
	for _, t := range trades {
		if ps.Apply(t) {
			n++
		}
	}
	return n
}

func (ps *Position) Apply(t orderbook.Trade) bool {
	if !ps.Tracks(t.OrderID) || t.Quantity <= 0 {
		return false
	}
	if _, seen := ps.applied[t.TradeID]; seen {
		return false
	}
	ps.applied[t.TradeID] = struct{}{}

	price := ps.pricer.Price(t.Price)
	qty := t.Quantity
	signed := qty
	if t.Side == orderbook.SideSell {
		signed = -qty
	}
	ps.Cash = ps.Cash.Sub(price.Mul(decimal.NewFromInt(signed)))

	// the part of the trade that reduces an open position realizes P&L
	if ps.Qty != 0 && (ps.Qty > 0) != (signed > 0) {
		closing := min(abs(ps.Qty), qty)
		dir := int64(1)
		if ps.Qty < 0 {
			dir = -1
		}
		ps.Realized = ps.Realized.Add(price.Sub(ps.AvgCost).Mul(decimal.NewFromInt(closing * dir)))
		ps.Qty += sign(signed) * closing
		signed -= sign(signed) * closing
		if ps.Qty == 0 {
			ps.AvgCost = decimal.Zero
		}
	}
	if signed != 0 {
		// opening or extending
		total := ps.AvgCost.Mul(decimal.NewFromInt(abs(ps.Qty))).Add(price.Mul(decimal.NewFromInt(abs(signed))))
		ps.Qty += signed
		ps.AvgCost = total.Div(decimal.NewFromInt(abs(ps.Qty)))
	}
	return true
}

// Unrealized marks the open position at last.
func (ps *Position) Unrealized(last decimal.Decimal) decimal.Decimal {
	return last.Sub(ps.AvgCost).Mul(decimal.NewFromInt(ps.Qty))
}

// LastPrice averages the prices of the most recent n trades; ok is false
// when there are none.
func LastPrice(trades []orderbook.Trade, n int, p Pricer) (decimal.Decimal, bool) {
	if len(trades) == 0 || n <= 0 {
		return decimal.Zero, false
	}
	tail := trades[max(0, len(trades)-n):]
	sum := decimal.Zero
	for _, t := range tail {
		sum = sum.Add(p.Price(t.Price))
	}
	return sum.Div(decimal.NewFromInt(int64(len(tail)))), true
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func sign(v int64) int64 {
	if v < 0 {
		return -1
	}
	return 1
}
