package orderbook

import "slices"

// match sweeps expired orders, then walks the opposite side from the front
// while o has quantity left and prices cross. The resting order always sets
// the execution price. The first non-crossing order ends the walk. A market
// order's unfilled remainder is discarded.
func (b *Book) match(o *Order, now int64, res *Result) {
	res.Expired = append(res.Expired, b.SweepExpired(now)...)
	if o.Quantity <= 0 {
		return
	}

	opposite := b.sideOf(o.Side.Opposite())
	i := 0
	for o.Quantity > 0 && i < len(*opposite) {
		resting := (*opposite)[i]
		if !o.crosses(resting.Price) {
			break
		}

		qty := min(o.Quantity, resting.Quantity)
		price := resting.Price
		res.Trades = append(res.Trades,
			b.ledger.record(o.ID, o.Side, price, qty, now),
			b.ledger.record(resting.ID, resting.Side, price, qty, now),
		)
		o.Quantity -= qty
		resting.Quantity -= qty

		if resting.Quantity == 0 {
			resting.Status = StatusClosed
			*opposite = slices.Delete(*opposite, i, i+1)
			delete(b.resident, resting.ID)
			res.Filled = append(res.Filled, *resting)
			continue
		}
		i++
	}

	if o.Kind == KindMarket {
		o.Quantity = 0
		o.Status = StatusClosed
	}
	b.verify()
}
