package orderbook

import "time"

// Book holds the resting bids and asks, the archive of cancelled and expired
// orders and the trade ledger for one instrument.
type Book struct {
	symbol   string
	bids     []*Order // price descending, FIFO within a price
	asks     []*Order // price ascending, FIFO within a price
	disposed []*Order // cancelled and expired orders in removal order
	ledger   Ledger
	resident map[int64]*Order
	now      func() time.Time
	paranoid bool
}

type Option func(*Book)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(b *Book) {
		if now != nil {
			b.now = now
		}
	}
}

// WithFullChecks verifies the whole book after every mutation instead of only
// the neighbours of an insert. Quadratic; meant for tests.
func WithFullChecks() Option {
	return func(b *Book) { b.paranoid = true }
}

func New(symbol string, opts ...Option) *Book {
	b := &Book{
		symbol:   symbol,
		resident: make(map[int64]*Order),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Book) Symbol() string {
	return b.symbol
}

// Result describes everything a single Submit changed.
type Result struct {
	Trades  []Trade `json:"trades"`
	Filled  []Order `json:"filled,omitempty"`  // resting orders fully filled, status closed
	Expired []Order `json:"expired,omitempty"` // swept before matching
	Rested  bool    `json:"rested"`
}

// Submit sweeps expired orders, matches o against the opposite side and
// rests any limit remainder. o is updated in place: its Quantity is the
// unfilled remainder and Status its final state after the call. A limit
// remainder that rests keeps sharing o with the book, so callers must not
// mutate o afterwards. An order with an undefined side or kind is closed
// without touching the book.
func (b *Book) Submit(o *Order) *Result {
	res := &Result{}
	if o == nil || o.Status.Terminal() {
		return res
	}
	if !o.Side.Valid() || !o.Kind.Valid() {
		o.Status = StatusClosed
		return res
	}
	if o.Status == 0 {
		o.Status = StatusOpen
	}
	now := b.now().UnixNano()

	b.match(o, now, res)

	if o.Kind == KindMarket || o.Quantity <= 0 {
		o.Status = StatusClosed
		return res
	}
	b.insert(o)
	res.Rested = true
	return res
}

// Sweep runs the expiry sweep at the book's current time.
func (b *Book) Sweep() []Order {
	return b.SweepExpired(b.now().UnixNano())
}

func (b *Book) sideOf(s Side) *[]*Order {
	if s == SideBuy {
		return &b.bids
	}
	return &b.asks
}

// Lookup returns a copy of a resting order.
func (b *Book) Lookup(id int64) (Order, bool) {
	o, ok := b.resident[id]
	if !ok {
		return Order{}, false
	}
	return *o, true
}

func (b *Book) Len() (bids, asks int) {
	return len(b.bids), len(b.asks)
}

func (b *Book) Bids() []Order { return copyOrders(b.bids) }

func (b *Book) Asks() []Order { return copyOrders(b.asks) }

func (b *Book) Disposed() []Order { return copyOrders(b.disposed) }

func (b *Book) Trades() []Trade { return b.ledger.Trades() }

func (b *Book) LastTrades(n int) []Trade { return b.ledger.Last(n) }

func (b *Book) TradesSince(afterID int64) []Trade { return b.ledger.Since(afterID) }

func (b *Book) BestBid() (price, qty int64, ok bool) {
	return best(b.bids)
}

func (b *Book) BestAsk() (price, qty int64, ok bool) {
	return best(b.asks)
}

// best returns the front price and the total quantity resting at it.
func best(side []*Order) (price, qty int64, ok bool) {
	if len(side) == 0 {
		return 0, 0, false
	}
	price = side[0].Price
	for _, o := range side {
		if o.Price != price {
			break
		}
		qty += o.Quantity
	}
	return price, qty, true
}

// PriceQty is one aggregated depth level.
type PriceQty struct {
	Price  int64 `json:"price"`
	Qty    int64 `json:"qty"`
	Orders int   `json:"orders"`
}

// Depth aggregates each side into at most limit price levels, best first.
// limit <= 0 returns every level.
func (b *Book) Depth(limit int) (bids, asks []PriceQty) {
	return aggregate(b.bids, limit), aggregate(b.asks, limit)
}

func aggregate(side []*Order, limit int) []PriceQty {
	levels := make([]PriceQty, 0)
	for _, o := range side {
		n := len(levels)
		if n > 0 && levels[n-1].Price == o.Price {
			levels[n-1].Qty += o.Quantity
			levels[n-1].Orders++
			continue
		}
		if limit > 0 && n == limit {
			break
		}
		levels = append(levels, PriceQty{Price: o.Price, Qty: o.Quantity, Orders: 1})
	}
	return levels
}

// Snapshot is a point-in-time copy of the whole book. It shares nothing with
// the live structures.
type Snapshot struct {
	Symbol   string  `json:"symbol"`
	Time     int64   `json:"time"`
	Bids     []Order `json:"bids"`
	Asks     []Order `json:"asks"`
	Disposed []Order `json:"disposed"`
	Trades   []Trade `json:"trades"`
}

func (b *Book) Snapshot() Snapshot {
	return Snapshot{
		Symbol:   b.symbol,
		Time:     b.now().UnixNano(),
		Bids:     b.Bids(),
		Asks:     b.Asks(),
		Disposed: b.Disposed(),
		Trades:   b.Trades(),
	}
}

func copyOrders(src []*Order) []Order {
	out := make([]Order, len(src))
	for i, o := range src {
		out[i] = *o
	}
	return out
}
