// Package generator produces synthetic orders for load testing and the
// simulator. Each Generator owns its configuration and random source, so two
// generators with the same Config and seed produce the same stream.
package generator

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/exchange/lob/internal/orderbook"
)

// IDSource assigns order ids.
type IDSource interface {
	Next() int64
}

type Config struct {
	// TickSize is the price grid step in ticks; generated prices are multiples of it.
	TickSize int64
	// PriceSigma is the standard deviation of the distance from the base price, in ticks.
	PriceSigma float64
	// MarketProb is the probability that an order is a market order.
	MarketProb float64
	// CrossProb is the probability that a limit order is priced through the
	// base price (buy above, sell below) instead of away from it.
	CrossProb float64
	// Expiry is the minimum lifetime of a limit order; zero generates GTC orders.
	Expiry time.Duration
	// ExpiryJitter adds a uniform random extra lifetime in [0, ExpiryJitter].
	ExpiryJitter time.Duration
	MinQty       int64
	MaxQty       int64
}

func DefaultConfig() Config {
	return Config{
		TickSize:     1,
		PriceSigma:   5,
		MarketProb:   1.0 / 3,
		CrossProb:    0.5,
		Expiry:       5 * time.Second,
		ExpiryJitter: 10 * time.Second,
		MinQty:       1,
		MaxQty:       100,
	}
}

func (c Config) Validate() error {
	var errs []error
	if c.TickSize <= 0 {
		errs = append(errs, fmt.Errorf("tick size must be positive, got %d", c.TickSize))
	}
	if c.PriceSigma < 0 || math.IsNaN(c.PriceSigma) {
		errs = append(errs, fmt.Errorf("price sigma must be non-negative, got %v", c.PriceSigma))
	}
	if !isProb(c.MarketProb) {
		errs = append(errs, fmt.Errorf("market probability out of [0,1]: %v", c.MarketProb))
	}
	if !isProb(c.CrossProb) {
		errs = append(errs, fmt.Errorf("cross probability out of [0,1]: %v", c.CrossProb))
	}
	if c.Expiry < 0 || c.ExpiryJitter < 0 {
		errs = append(errs, errors.New("expiry durations must be non-negative"))
	}
	if c.MinQty <= 0 {
		errs = append(errs, fmt.Errorf("min qty must be positive, got %d", c.MinQty))
	}
	if c.MaxQty < c.MinQty {
		errs = append(errs, fmt.Errorf("max qty %d below min qty %d", c.MaxQty, c.MinQty))
	}
	return errors.Join(errs...)
}

func isProb(p float64) bool {
	return p >= 0 && p <= 1
}

type Generator struct {
	cfg Config
	rng *rand.Rand
	ids IDSource
}

func New(cfg Config, seed uint64, ids IDSource) (*Generator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("generator config: %w", err)
	}
	if ids == nil {
		return nil, errors.New("generator: nil id source")
	}
	return &Generator{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		ids: ids,
	}, nil
}

// Next returns an open order around basePrice (in ticks) submitted at now.
func (g *Generator) Next(basePrice int64, now time.Time) *orderbook.Order {
	side := orderbook.SideBuy
	if g.rng.IntN(2) == 1 {
		side = orderbook.SideSell
	}
	qty := g.cfg.MinQty + g.rng.Int64N(g.cfg.MaxQty-g.cfg.MinQty+1)
	id := g.ids.Next()
	ts := now.UnixNano()

	if g.rng.Float64() < g.cfg.MarketProb {
		return orderbook.NewMarket(id, side, qty, ts)
	}

	var expiresAt int64
	if g.cfg.Expiry > 0 || g.cfg.ExpiryJitter > 0 {
		ttl := g.cfg.Expiry
		if g.cfg.ExpiryJitter > 0 {
			ttl += time.Duration(g.rng.Int64N(int64(g.cfg.ExpiryJitter) + 1))
		}
		expiresAt = now.Add(ttl).UnixNano()
	}
	return orderbook.NewLimit(id, side, g.price(side, basePrice), qty, ts, expiresAt)
}

// Batch returns n orders generated against the same base price.
func (g *Generator) Batch(n int, basePrice int64, now time.Time) []*orderbook.Order {
	out := make([]*orderbook.Order, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.Next(basePrice, now))
	}
	return out
}

func (g *Generator) price(side orderbook.Side, base int64) int64 {
	offset := math.Abs(g.rng.NormFloat64() * g.cfg.PriceSigma)
	cross := g.rng.Float64() < g.cfg.CrossProb
	// buys above the base and sells below it cross
	if (side == orderbook.SideBuy) != cross {
		offset = -offset
	}
	tick := g.cfg.TickSize
	p := int64(math.Round((float64(base)+offset)/float64(tick))) * tick
	return max(p, tick)
}
