package engine

import "github.com/exchange/lob/internal/orderbook"

type EventType int

const (
	EventOrderAccepted EventType = iota + 1
	EventOrderClosed
	EventOrderCanceled
	EventOrderExpired
	EventTradeCreated
	EventOrderFilled
	EventOrderPartiallyFilled
)

func (t EventType) String() string {
	switch t {
	case EventOrderAccepted:
		return "ORDER_ACCEPTED"
	case EventOrderClosed:
		return "ORDER_CLOSED"
	case EventOrderCanceled:
		return "ORDER_CANCELED"
	case EventOrderExpired:
		return "ORDER_EXPIRED"
	case EventTradeCreated:
		return "TRADE_CREATED"
	case EventOrderFilled:
		return "ORDER_FILLED"
	case EventOrderPartiallyFilled:
		return "ORDER_PARTIALLY_FILLED"
	default:
		return "UNKNOWN"
	}
}

// Event is emitted by the engine loop in processing order; Seq is gapless.
type Event struct {
	Type      EventType
	Symbol    string
	Seq       int64
	Timestamp int64
	Data      interface{}
}

// OrderData describes an order state change.
type OrderData struct {
	OrderID     int64  `json:"orderId"`
	Side        string `json:"side"`
	Kind        string `json:"kind"`
	Price       int64  `json:"price"`
	LeavesQty   int64  `json:"leavesQty"`
	ExecutedQty int64  `json:"executedQty"`
	Status      string `json:"status"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"`
	// Reason is set for closures that are not fills.
	Reason string `json:"reason,omitempty"`
}

func orderData(o orderbook.Order, executed int64, reason string) *OrderData {
	return &OrderData{
		OrderID:     o.ID,
		Side:        o.Side.String(),
		Kind:        o.Kind.String(),
		Price:       o.Price,
		LeavesQty:   o.Quantity,
		ExecutedQty: executed,
		Status:      o.Status.String(),
		ExpiresAt:   o.ExpiresAt,
		Reason:      reason,
	}
}

// TradeData is one ledger record.
type TradeData struct {
	TradeID   int64  `json:"tradeId"`
	OrderID   int64  `json:"orderId"`
	Side      string `json:"side"`
	Price     int64  `json:"price"`
	Quantity  int64  `json:"quantity"`
	Timestamp int64  `json:"timestamp"`
	Aggressor bool   `json:"aggressor"`
}

// Message is the wire form of an Event shared by every outbound transport.
type Message struct {
	Type      string      `json:"type"`
	Symbol    string      `json:"symbol"`
	Seq       int64       `json:"seq"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

func (ev *Event) Message() Message {
	return Message{
		Type:      ev.Type.String(),
		Symbol:    ev.Symbol,
		Seq:       ev.Seq,
		Timestamp: ev.Timestamp,
		Data:      ev.Data,
	}
}
