package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"

	"github.com/exchange/lob/internal/orderbook"
	"github.com/exchange/lob/internal/report"
	apperrors "github.com/exchange/lob/pkg/errors"
	"github.com/exchange/lob/pkg/response"
	"github.com/exchange/lob/pkg/tracing"
)

type CreateOrderRequest struct {
	Side     string          `json:"side"`
	Type     string          `json:"type"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	// ExpiresIn is a Go duration such as "30s"; empty means good-till-cancel.
	ExpiresIn string `json:"expiresIn,omitempty"`
}

type OrderView struct {
	ID          int64           `json:"id"`
	Side        string          `json:"side"`
	Type        string          `json:"type"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	Status      string          `json:"status"`
	SubmittedAt time.Time       `json:"submittedAt"`
	ExpiresAt   *time.Time      `json:"expiresAt,omitempty"`
}

type TradeView struct {
	TradeID  int64           `json:"tradeId"`
	OrderID  int64           `json:"orderId"`
	Side     string          `json:"side"`
	Price    decimal.Decimal `json:"price"`
	Quantity int64           `json:"quantity"`
	Time     time.Time       `json:"time"`
}

type CreateOrderResponse struct {
	Order   OrderView   `json:"order"`
	Trades  []TradeView `json:"trades"`
	Filled  []int64     `json:"filled,omitempty"`
	Expired []int64     `json:"expired,omitempty"`
	Rested  bool        `json:"rested"`
}

func (s *Server) orderView(o orderbook.Order) OrderView {
	v := OrderView{
		ID:          o.ID,
		Side:        o.Side.String(),
		Type:        o.Kind.String(),
		Quantity:    o.Quantity,
		Status:      o.Status.String(),
		SubmittedAt: time.Unix(0, o.SubmittedAt).UTC(),
	}
	if o.Kind == orderbook.KindLimit {
		v.Price = s.pricer.Price(o.Price)
	}
	if o.ExpiresAt > 0 {
		t := time.Unix(0, o.ExpiresAt).UTC()
		v.ExpiresAt = &t
	}
	return v
}

func (s *Server) orderViews(orders []orderbook.Order) []OrderView {
	out := make([]OrderView, 0, len(orders))
	for _, o := range orders {
		out = append(out, s.orderView(o))
	}
	return out
}

func tradeViews(trades []orderbook.Trade, p report.Pricer) []TradeView {
	out := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		out = append(out, TradeView{
			TradeID:  t.TradeID,
			OrderID:  t.OrderID,
			Side:     t.Side.String(),
			Price:    p.Price(t.Price),
			Quantity: t.Quantity,
			Time:     time.Unix(0, t.Timestamp).UTC(),
		})
	}
	return out
}

// parseOrder validates req and builds the order with a fresh id.
func (s *Server) parseOrder(req *CreateOrderRequest) (*orderbook.Order, *apperrors.Error) {
	side, err := orderbook.ParseSide(req.Side)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeInvalidSide, err.Error())
	}
	kind := orderbook.KindLimit
	if req.Type != "" {
		if kind, err = orderbook.ParseKind(req.Type); err != nil {
			return nil, apperrors.New(apperrors.CodeInvalidOrderType, err.Error())
		}
	}
	if req.Quantity <= 0 {
		return nil, apperrors.Newf(apperrors.CodeInvalidQuantity, "quantity must be positive, got %d", req.Quantity)
	}

	now := s.now()
	if kind == orderbook.KindMarket {
		return orderbook.NewMarket(s.ids.Next(), side, req.Quantity, now.UnixNano()), nil
	}

	if !req.Price.IsPositive() {
		return nil, apperrors.Newf(apperrors.CodeInvalidPrice, "limit price must be positive, got %s", req.Price)
	}
	ticks, err := s.pricer.Ticks(req.Price)
	if err != nil {
		return nil, apperrors.New(apperrors.CodeInvalidPrice, err.Error())
	}

	var expiresAt int64
	if req.ExpiresIn != "" {
		ttl, err := time.ParseDuration(req.ExpiresIn)
		if err != nil || ttl <= 0 {
			return nil, apperrors.Newf(apperrors.CodeInvalidExpiry, "invalid expiresIn %q", req.ExpiresIn)
		}
		expiresAt = now.Add(ttl).UnixNano()
	}
	return orderbook.NewLimit(s.ids.Next(), side, ticks, req.Quantity, now.UnixNano(), expiresAt), nil
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.StartSpan(r.Context(), "api.createOrder")
	defer span.End()

	var req CreateOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.WriteError(w, r, apperrors.Newf(apperrors.CodeInvalidRequest, "malformed body: %v", err))
		return
	}
	o, aerr := s.parseOrder(&req)
	if aerr != nil {
		response.WriteError(w, r, aerr)
		return
	}
	s.track(o.ID)

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	sub, err := s.eng.Submit(ctx, o)
	if err != nil {
		tracing.SetError(ctx, err)
		s.engineError(w, r, err)
		return
	}
	tracing.AddEvent(ctx, "order.processed",
		attribute.Int64("order.id", sub.Order.ID),
		attribute.Int("trades", len(sub.Trades)),
		attribute.Bool("rested", sub.Rested),
	)

	response.WriteJSON(w, http.StatusOK, CreateOrderResponse{
		Order:   s.orderView(sub.Order),
		Trades:  tradeViews(sub.Trades, s.pricer),
		Filled:  lo.Map(sub.Filled, idOf),
		Expired: lo.Map(sub.Expired, idOf),
		Rested:  sub.Rested,
	})
}

func idOf(o orderbook.Order, _ int) int64 { return o.ID }

func orderID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		response.WriteError(w, r, apperrors.Newf(apperrors.CodeInvalidParam, "invalid order id %q", r.PathValue("id")))
		return 0, false
	}
	return id, true
}

func (s *Server) handleCancelOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	o, found, err := s.eng.Cancel(ctx, id)
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	if !found {
		response.WriteError(w, r, apperrors.ErrOrderNotFound)
		return
	}
	response.WriteJSON(w, http.StatusOK, s.orderView(o))
}

// handleGetOrder finds a resting order, or one in the disposed archive.
func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, ok := orderID(w, r)
	if !ok {
		return
	}
	ctx, cancel := s.requestContext(r)
	defer cancel()

	var (
		o     orderbook.Order
		found bool
	)
	err := s.eng.Query(ctx, func(b *orderbook.Book) {
		if o, found = b.Lookup(id); found {
			return
		}
		for _, d := range b.Disposed() {
			if d.ID == id {
				o, found = d, true
				return
			}
		}
	})
	if err != nil {
		s.engineError(w, r, err)
		return
	}
	if !found {
		response.WriteError(w, r, apperrors.ErrOrderNotFound)
		return
	}
	response.WriteJSON(w, http.StatusOK, s.orderView(o))
}
