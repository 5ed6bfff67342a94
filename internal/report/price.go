// Package report renders read-only views of book state: CSV tables, market
// statistics and position P&L. Everything here works on snapshot copies and
// returns owned values.
package report

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Pricer converts between integer ticks and decimal prices.
type Pricer struct {
	tick decimal.Decimal
}

// NewPricer panics on a non-positive tick size; configuration validates it first.
func NewPricer(tick decimal.Decimal) Pricer {
	if !tick.IsPositive() {
		panic(fmt.Sprintf("report: tick size must be positive, got %s", tick))
	}
	return Pricer{tick: tick}
}

func (p Pricer) TickSize() decimal.Decimal { return p.tick }

func (p Pricer) Price(ticks int64) decimal.Decimal {
	return decimal.NewFromInt(ticks).Mul(p.tick)
}

// Ticks converts a price that must lie exactly on the tick grid.
func (p Pricer) Ticks(price decimal.Decimal) (int64, error) {
	q, rem := price.QuoRem(p.tick, 0)
	if !rem.IsZero() {
		return 0, fmt.Errorf("price %s is not a multiple of tick %s", price, p.tick)
	}
	if q.Abs().GreaterThan(decimal.NewFromInt(1 << 62)) {
		return 0, fmt.Errorf("price %s out of range", price)
	}
	return q.IntPart(), nil
}
