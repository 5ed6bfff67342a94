package orderbook

// Trade records one side of an execution. Every match emits two trades with
// consecutive ids: the aggressor's first, then the resting order's.
type Trade struct {
	TradeID   int64 `json:"tradeId"`
	OrderID   int64 `json:"orderId"`
	Side      Side  `json:"side"`
	Price     int64 `json:"price"`
	Quantity  int64 `json:"quantity"`
	Timestamp int64 `json:"timestamp"`
}

// Ledger is the append-only trade history. Trade ids start at 1.
type Ledger struct {
	trades []Trade
	lastID int64
}

func (l *Ledger) record(orderID int64, side Side, price, qty, ts int64) Trade {
	l.lastID++
	t := Trade{
		TradeID:   l.lastID,
		OrderID:   orderID,
		Side:      side,
		Price:     price,
		Quantity:  qty,
		Timestamp: ts,
	}
	l.trades = append(l.trades, t)
	return t
}

func (l *Ledger) Len() int {
	return len(l.trades)
}

// LastID returns the most recently assigned trade id, 0 when empty.
func (l *Ledger) LastID() int64 {
	return l.lastID
}

// Trades returns a copy of the full history.
func (l *Ledger) Trades() []Trade {
	return append([]Trade(nil), l.trades...)
}

// Last returns a copy of at most the n most recent trades.
func (l *Ledger) Last(n int) []Trade {
	if n <= 0 {
		return nil
	}
	return append([]Trade(nil), l.trades[max(0, len(l.trades)-n):]...)
}

// Since returns a copy of the trades with id greater than afterID.
func (l *Ledger) Since(afterID int64) []Trade {
	// ids are dense and start at 1, so the index of id n is n-1
	if afterID < 0 {
		afterID = 0
	}
	if afterID >= int64(len(l.trades)) {
		return nil
	}
	return append([]Trade(nil), l.trades[afterID:]...)
}
