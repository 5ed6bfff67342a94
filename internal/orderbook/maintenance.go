package orderbook

import (
	"fmt"
	"slices"
)

// insert rests an open limit order behind every order of equal or better
// price on its side.
func (b *Book) insert(o *Order) {
	if _, dup := b.resident[o.ID]; dup {
		panic(fmt.Sprintf("orderbook: order %d already resting", o.ID))
	}
	side := b.sideOf(o.Side)

	pos := 0
	for pos < len(*side) && !o.ranksAhead((*side)[pos]) {
		pos++
	}
	*side = slices.Insert(*side, pos, o)
	b.resident[o.ID] = o

	checkNeighbours(*side, pos)
	b.verify()
}

// SweepExpired removes every resting order whose deadline is not after now,
// marks it expired and archives it. Good-till-cancel orders are never touched.
// It returns copies of the swept orders.
func (b *Book) SweepExpired(now int64) []Order {
	var swept []Order
	for _, side := range []*[]*Order{&b.bids, &b.asks} {
		*side = slices.DeleteFunc(*side, func(o *Order) bool {
			if !o.expired(now) {
				return false
			}
			o.Status = StatusExpired
			b.dispose(o)
			swept = append(swept, *o)
			return true
		})
	}
	return swept
}

// Cancel removes a resting order and archives it as cancelled. Unknown ids,
// including orders already filled, expired or cancelled, are ignored.
func (b *Book) Cancel(id int64) (Order, bool) {
	o, ok := b.resident[id]
	if !ok {
		return Order{}, false
	}
	side := b.sideOf(o.Side)
	idx := slices.Index(*side, o)
	if idx < 0 {
		panic(fmt.Sprintf("orderbook: order %d indexed but not resting", id))
	}
	*side = slices.Delete(*side, idx, idx+1)
	o.Status = StatusCancelled
	b.dispose(o)
	b.verify()
	return *o, true
}

func (b *Book) dispose(o *Order) {
	delete(b.resident, o.ID)
	b.disposed = append(b.disposed, o)
}
