// Package orderbook implements a single-instrument limit order book with
// price-time priority. A Book is not safe for concurrent use; callers must
// serialize every operation (see package engine).
package orderbook

import (
	"fmt"
	"strings"
)

type Side int8

const (
	SideBuy  Side = 1
	SideSell Side = 2
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return fmt.Sprintf("Side(%d)", int8(s))
	}
}

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// Opposite returns the side an order of this side trades against.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY", "B":
		return SideBuy, nil
	case "SELL", "S":
		return SideSell, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

// Kind distinguishes limit orders from market orders.
type Kind int8

const (
	KindLimit  Kind = 1
	KindMarket Kind = 2
)

func (k Kind) String() string {
	switch k {
	case KindLimit:
		return "LIMIT"
	case KindMarket:
		return "MARKET"
	default:
		return fmt.Sprintf("Kind(%d)", int8(k))
	}
}

func (k Kind) Valid() bool { return k == KindLimit || k == KindMarket }

func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LIMIT":
		return KindLimit, nil
	case "MARKET":
		return KindMarket, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", s)
	}
}

type Status int8

const (
	StatusOpen      Status = 1
	StatusClosed    Status = 2
	StatusCancelled Status = 3
	StatusExpired   Status = 4
)

func (s Status) String() string {
	switch s {
	case StatusOpen:
		return "OPEN"
	case StatusClosed:
		return "CLOSED"
	case StatusCancelled:
		return "CANCELLED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return fmt.Sprintf("Status(%d)", int8(s))
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusClosed || s == StatusCancelled || s == StatusExpired
}

// Order is a request to trade. Price is in ticks and ignored for market
// orders. Times are unix nanoseconds; ExpiresAt == 0 means good-till-cancel.
type Order struct {
	ID          int64  `json:"id"`
	Side        Side   `json:"side"`
	Kind        Kind   `json:"kind"`
	Price       int64  `json:"price"`
	Quantity    int64  `json:"quantity"`
	SubmittedAt int64  `json:"submittedAt"`
	ExpiresAt   int64  `json:"expiresAt,omitempty"`
	Status      Status `json:"status"`
}

// NewLimit returns an open limit order.
func NewLimit(id int64, side Side, price, qty, submittedAt, expiresAt int64) *Order {
	return &Order{
		ID:          id,
		Side:        side,
		Kind:        KindLimit,
		Price:       price,
		Quantity:    qty,
		SubmittedAt: submittedAt,
		ExpiresAt:   expiresAt,
		Status:      StatusOpen,
	}
}

// NewMarket returns an open market order.
func NewMarket(id int64, side Side, qty, submittedAt int64) *Order {
	return &Order{
		ID:          id,
		Side:        side,
		Kind:        KindMarket,
		Quantity:    qty,
		SubmittedAt: submittedAt,
		Status:      StatusOpen,
	}
}

// expired reports whether the order has a deadline that is not after now.
func (o *Order) expired(now int64) bool {
	return o.ExpiresAt > 0 && o.ExpiresAt <= now
}

// crosses reports whether o may trade against a resting order at price.
func (o *Order) crosses(price int64) bool {
	if o.Kind == KindMarket {
		return true
	}
	if o.Side == SideBuy {
		return o.Price >= price
	}
	return o.Price <= price
}

// ranksAhead reports whether o has strictly better price than other on o's side.
func (o *Order) ranksAhead(other *Order) bool {
	if o.Side == SideBuy {
		return o.Price > other.Price
	}
	return o.Price < other.Price
}
