package report

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exchange/lob/internal/orderbook"
)

var cents = NewPricer(decimal.RequireFromString("0.01"))

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPricerTicks(t *testing.T) {
	if got := cents.Price(10050); !got.Equal(dec("100.5")) {
		t.Fatalf("Price = %s", got)
	}
	ticks, err := cents.Ticks(dec("100.25"))
	if err != nil || ticks != 10025 {
		t.Fatalf("Ticks = %d, %v", ticks, err)
	}
	if _, err := cents.Ticks(dec("100.255")); err == nil {
		t.Fatalf("expected off-grid price to fail")
	}
	// beyond the default division precision
	whole := NewPricer(dec("1"))
	if ticks, err := whole.Ticks(dec("100.00000000000000001")); err == nil {
		t.Fatalf("expected off-grid price to fail, got %d ticks", ticks)
	}
	if _, err := cents.Ticks(dec("0.0100000000000000000001")); err == nil {
		t.Fatalf("expected off-grid price to fail")
	}
	if ticks, err := whole.Ticks(dec("123")); err != nil || ticks != 123 {
		t.Fatalf("Ticks = %d, %v", ticks, err)
	}
}

func TestBookCSV(t *testing.T) {
	snap := orderbook.Snapshot{
		Bids: []orderbook.Order{{ID: 2, Side: orderbook.SideBuy, Kind: orderbook.KindLimit, Price: 10000, Quantity: 5}},
		Asks: []orderbook.Order{{ID: 3, Side: orderbook.SideSell, Kind: orderbook.KindLimit, Price: 10010, Quantity: 1}},
	}
	want := "ID,SIDE,PRICE,QTY,TYPE\n2,BUY,100,5,LIMIT\n3,SELL,100.1,1,LIMIT\n"
	if got := BookCSV(snap, cents); got != want {
		t.Fatalf("BookCSV =\n%q\nwant\n%q", got, want)
	}
	if got := BookCSV(orderbook.Snapshot{}, cents); got != "ID,SIDE,PRICE,QTY,TYPE\n" {
		t.Fatalf("empty book should still have a header, got %q", got)
	}
}

func TestDisposedAndTradesCSV(t *testing.T) {
	if DisposedCSV(nil, cents) != "" || TradesCSV(nil, cents) != "" {
		t.Fatalf("empty archive and ledger should render empty")
	}

	disposed := DisposedCSV([]orderbook.Order{
		{ID: 7, Side: orderbook.SideSell, Kind: orderbook.KindLimit, Price: 101, Quantity: 4, Status: orderbook.StatusExpired},
	}, cents)
	if disposed != "ID,SIDE,PRICE,QUANTITY,TYPE,STATUS\n7,SELL,1.01,4,LIMIT,EXPIRED\n" {
		t.Fatalf("unexpected disposed csv %q", disposed)
	}

	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC).UnixNano()
	trades := TradesCSV([]orderbook.Trade{
		{TradeID: 1, OrderID: 9, Side: orderbook.SideBuy, Price: 100, Quantity: 2, Timestamp: ts},
	}, cents)
	if trades != "TRADE_ID,ORDER_ID,SIDE,PRICE,QUANTITY,TIME\n1,9,BUY,1,2,2024-01-02T03:04:05Z\n" {
		t.Fatalf("unexpected trades csv %q", trades)
	}
}

func TestCSVReturnsOwnedStrings(t *testing.T) {
	snap := orderbook.Snapshot{Bids: []orderbook.Order{{ID: 1, Side: orderbook.SideBuy, Kind: orderbook.KindLimit, Price: 1, Quantity: 1}}}
	first := BookCSV(snap, cents)
	_ = BookCSV(orderbook.Snapshot{}, cents)
	if !strings.Contains(first, "1,BUY") {
		t.Fatalf("earlier result was overwritten: %q", first)
	}
}

func TestComputeStats(t *testing.T) {
	bids := []orderbook.Order{
		{Price: 9900, Quantity: 3},
		{Price: 9800, Quantity: 1},
	}
	asks := []orderbook.Order{
		{Price: 10100, Quantity: 1},
	}
	s := ComputeStats(bids, asks, cents)

	checks := []struct {
		name string
		got  decimal.Decimal
		want string
	}{
		{"best bid", s.BestBid, "99"},
		{"best ask", s.BestAsk, "101"},
		{"mid", s.Mid, "100"},
		{"spread", s.Spread, "2"},
		{"relative spread", s.RelativeSpread, "0.02"},
		{"vwap bid", s.VWAPBid, "98.75"},
		{"vwap ask", s.VWAPAsk, "101"},
		{"imbalance", s.Imbalance, "0.5"},
		{"flow imbalance", s.FlowImbalance, "196"},
		{"queue pressure", s.QueuePressure, "0.75"},
		{"microprice", s.Microprice, "100.5"},
	}
	for _, c := range checks {
		if !c.got.Equal(dec(c.want)) {
			t.Fatalf("%s = %s, want %s", c.name, c.got, c.want)
		}
	}
	if s.DepthBid != 4 || s.DepthAsk != 1 || s.RestingBids != 2 {
		t.Fatalf("unexpected depth %+v", s)
	}
}

func TestComputeStatsOneSided(t *testing.T) {
	s := ComputeStats([]orderbook.Order{{Price: 100, Quantity: 2}}, nil, cents)
	if !s.Mid.IsZero() || !s.Microprice.IsZero() || !s.BestAsk.IsZero() {
		t.Fatalf("two-sided stats must be zero, got %+v", s)
	}
	if !s.QueuePressure.Equal(dec("1")) {
		t.Fatalf("queue pressure = %s", s.QueuePressure)
	}
}

func TestPositionAverageCost(t *testing.T) {
	ps := NewPosition(dec("1000"), cents)
	ps.Track(1)
	ps.Track(2)

	trades := []orderbook.Trade{
		{TradeID: 1, OrderID: 1, Side: orderbook.SideBuy, Price: 10000, Quantity: 10},
		{TradeID: 2, OrderID: 99, Side: orderbook.SideSell, Price: 10000, Quantity: 10},
		{TradeID: 3, OrderID: 2, Side: orderbook.SideSell, Price: 11000, Quantity: 4},
	}
	if n := ps.ApplyAll(trades); n != 2 {
		t.Fatalf("applied %d trades, want 2", n)
	}
	if n := ps.ApplyAll(trades); n != 0 {
		t.Fatalf("trades re-applied")
	}

	if ps.Qty != 6 || !ps.AvgCost.Equal(dec("100")) {
		t.Fatalf("position = %d @ %s", ps.Qty, ps.AvgCost)
	}
	if !ps.Realized.Equal(dec("40")) {
		t.Fatalf("realized = %s", ps.Realized)
	}
	if !ps.Cash.Equal(dec("440")) {
		t.Fatalf("cash = %s", ps.Cash)
	}
	if u := ps.Unrealized(dec("105")); !u.Equal(dec("30")) {
		t.Fatalf("unrealized = %s", u)
	}
}

func TestPositionFlipsThroughZero(t *testing.T) {
	ps := NewPosition(decimal.Zero, cents)
	ps.Track(1)
	ps.Apply(orderbook.Trade{TradeID: 1, OrderID: 1, Side: orderbook.SideSell, Price: 10000, Quantity: 5})
	ps.Apply(orderbook.Trade{TradeID: 2, OrderID: 1, Side: orderbook.SideBuy, Price: 9000, Quantity: 8})

	if ps.Qty != 3 || !ps.AvgCost.Equal(dec("90")) {
		t.Fatalf("position = %d @ %s", ps.Qty, ps.AvgCost)
	}
	if !ps.Realized.Equal(dec("50")) {
		t.Fatalf("realized = %s", ps.Realized)
	}
}

func TestLastPrice(t *testing.T) {
	trades := []orderbook.Trade{{Price: 100}, {Price: 200}, {Price: 300}}
	if p, ok := LastPrice(trades, 2, cents); !ok || !p.Equal(dec("2.5")) {
		t.Fatalf("LastPrice = %s %v", p, ok)
	}
	if _, ok := LastPrice(nil, 5, cents); ok {
		t.Fatalf("expected no last price")
	}
}
