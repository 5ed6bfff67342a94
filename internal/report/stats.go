package report

import (
	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/exchange/lob/internal/orderbook"
)

// Stats summarizes the top of book and resting liquidity. Fields that need
// both sides are zero when either side is empty.
type Stats struct {
	BestBid        decimal.Decimal `json:"bestBid"`
	BestAsk        decimal.Decimal `json:"bestAsk"`
	Mid            decimal.Decimal `json:"mid"`
	Spread         decimal.Decimal `json:"spread"`
	RelativeSpread decimal.Decimal `json:"relativeSpread"`
	DepthBid       int64           `json:"depthBid"`
	DepthAsk       int64           `json:"depthAsk"`
	VWAPBid        decimal.Decimal `json:"vwapBid"`
	VWAPAsk        decimal.Decimal `json:"vwapAsk"`
	// Imbalance is (bidQty-askQty)/(bidQty+askQty) at the front of each side.
	Imbalance decimal.Decimal `json:"imbalance"`
	// FlowImbalance is front bid notional minus front ask notional.
	FlowImbalance decimal.Decimal `json:"flowImbalance"`
	// QueuePressure is the front bid's share of total bid depth.
	QueuePressure decimal.Decimal `json:"queuePressure"`
	Microprice    decimal.Decimal `json:"microprice"`
	RestingBids   int             `json:"restingBids"`
	RestingAsks   int             `json:"restingAsks"`
}

const statsPrecision = 8

func ComputeStats(bids, asks []orderbook.Order, p Pricer) Stats {
	s := Stats{
		DepthBid:    depth(bids),
		DepthAsk:    depth(asks),
		RestingBids: len(bids),
		RestingAsks: len(asks),
	}
	s.VWAPBid = vwap(bids, s.DepthBid, p)
	s.VWAPAsk = vwap(asks, s.DepthAsk, p)

	if len(bids) > 0 {
		s.BestBid = p.Price(bids[0].Price)
		s.QueuePressure = ratio(decimal.NewFromInt(bids[0].Quantity), decimal.NewFromInt(s.DepthBid))
	}
	if len(asks) > 0 {
		s.BestAsk = p.Price(asks[0].Price)
	}
	if len(bids) == 0 || len(asks) == 0 {
		return s
	}

	bid, ask := s.BestBid, s.BestAsk
	bidQty, askQty := decimal.NewFromInt(bids[0].Quantity), decimal.NewFromInt(asks[0].Quantity)

	s.Mid = bid.Add(ask).Div(decimal.NewFromInt(2))
	s.Spread = ask.Sub(bid)
	s.RelativeSpread = ratio(s.Spread, s.Mid)
	s.Imbalance = ratio(bidQty.Sub(askQty), bidQty.Add(askQty))
	s.FlowImbalance = bid.Mul(bidQty).Sub(ask.Mul(askQty))
	s.Microprice = ratio(ask.Mul(bidQty).Add(bid.Mul(askQty)), bidQty.Add(askQty))
	return s
}

func depth(side []orderbook.Order) int64 {
	return lo.SumBy(side, func(o orderbook.Order) int64 { return o.Quantity })
}

func vwap(side []orderbook.Order, total int64, p Pricer) decimal.Decimal {
	if total == 0 {
		return decimal.Zero
	}
	notional := lo.Reduce(side, func(acc decimal.Decimal, o orderbook.Order, _ int) decimal.Decimal {
		return acc.Add(p.Price(o.Price).Mul(decimal.NewFromInt(o.Quantity)))
	}, decimal.Zero)
	return ratio(notional, decimal.NewFromInt(total))
}

func ratio(num, den decimal.Decimal) decimal.Decimal {
	if den.IsZero() {
		return decimal.Zero
	}
	return num.DivRound(den, statsPrecision)
}
