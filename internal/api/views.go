package api

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/exchange/lob/internal/orderbook"
	"github.com/exchange/lob/internal/report"
	"github.com/exchange/lob/pkg/response"
)

const (
	defaultDepthLevels = 20
	lastPriceWindow    = 5
)

type BookView struct {
	Symbol string      `json:"symbol"`
	Bids   []OrderView `json:"bids"`
	Asks   []OrderView `json:"asks"`
}

func (s *Server) handleBook(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	snap, err := s.eng.Snapshot(ctx)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	if wantsCSV(r) {
		writeCSV(w, report.BookCSV(snap, s.pricer))
		return
	}
	response.WriteJSON(w, http.StatusOK, BookView{
		Symbol: snap.Symbol,
		Bids:   s.orderViews(snap.Bids),
		Asks:   s.orderViews(snap.Asks),
	})
}

// handleTrades returns ledger records with ids above ?since.
func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	since, aerr := queryInt64(r, "since", 0)
	if aerr != nil {
		response.WriteError(w, r, aerr)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	var trades []orderbook.Trade
	if err := s.eng.Query(ctx, func(b *orderbook.Book) { trades = b.TradesSince(since) }); err != nil {
		s.engineError(w, r, err)
		return
	}
	if wantsCSV(r) {
		writeCSV(w, report.TradesCSV(trades, s.pricer))
		return
	}
	response.WriteJSON(w, http.StatusOK, tradeViews(trades, s.pricer))
}

func (s *Server) handleDisposed(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	var disposed []orderbook.Order
	if err := s.eng.Query(ctx, func(b *orderbook.Book) { disposed = b.Disposed() }); err != nil {
		s.engineError(w, r, err)
		return
	}
	if wantsCSV(r) {
		writeCSV(w, report.DisposedCSV(disposed, s.pricer))
		return
	}
	response.WriteJSON(w, http.StatusOK, s.orderViews(disposed))
}

type LevelView struct {
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Orders   int             `json:"orders"`
}

type DepthView struct {
	Symbol string      `json:"symbol"`
	Bids   []LevelView `json:"bids"`
	Asks   []LevelView `json:"asks"`
}

func (s *Server) levels(side []orderbook.PriceQty) []LevelView {
	out := make([]LevelView, 0, len(side))
	for _, l := range side {
		out = append(out, LevelView{Price: s.pricer.Price(l.Price), Quantity: l.Qty, Orders: l.Orders})
	}
	return out
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	limit, aerr := queryInt64(r, "limit", defaultDepthLevels)
	if aerr != nil {
		response.WriteError(w, r, aerr)
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	bids, asks, err := s.eng.Depth(ctx, int(limit))
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, DepthView{
		Symbol: s.eng.Symbol(),
		Bids:   s.levels(bids),
		Asks:   s.levels(asks),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := s.requestContext(r)
	defer cancel()

	var bids, asks []orderbook.Order
	if err := s.eng.Query(ctx, func(b *orderbook.Book) { bids, asks = b.Bids(), b.Asks() }); err != nil {
		s.engineError(w, r, err)
		return
	}
	response.WriteJSON(w, http.StatusOK, report.ComputeStats(bids, asks, s.pricer))
}

type PositionView struct {
	Cash       decimal.Decimal `json:"cash"`
	Quantity   int64           `json:"quantity"`
	AvgCost    decimal.Decimal `json:"avgCost"`
	Realized   decimal.Decimal `json:"realized"`
	Unrealized decimal.Decimal `json:"unrealized"`
	LastPrice  decimal.Decimal `json:"lastPrice"`
}

func (s *Server) track(id int64) {
	if s.position == nil {
		return
	}
	s.posMu.Lock()
	s.position.Track(id)
	s.posMu.Unlock()
}

// handlePosition folds trades recorded since the last call into the position
// and marks it at the average of the latest trade prices.
func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	if s.position == nil {
		response.WriteJSON(w, http.StatusOK, PositionView{})
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	s.posMu.Lock()
	defer s.posMu.Unlock()

	var fresh, recent []orderbook.Trade
	cursor := s.posCursor
	err := s.eng.Query(ctx, func(b *orderbook.Book) {
		fresh = b.TradesSince(cursor)
		recent = b.LastTrades(lastPriceWindow)
	})
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	s.position.ApplyAll(fresh)
	if n := len(fresh); n > 0 {
		s.posCursor = fresh[n-1].TradeID
	}

	view := PositionView{
		Cash:     s.position.Cash,
		Quantity: s.position.Qty,
		AvgCost:  s.position.AvgCost,
		Realized: s.position.Realized,
	}
	if last, ok := report.LastPrice(recent, lastPriceWindow, s.pricer); ok {
		view.LastPrice = last
		view.Unrealized = s.position.Unrealized(last)
	}
	response.WriteJSON(w, http.StatusOK, view)
}
