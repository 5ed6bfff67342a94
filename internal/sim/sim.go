// Package sim drives the engine with generated order flow.
package sim

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/exchange/lob/internal/engine"
	"github.com/exchange/lob/internal/generator"
	"github.com/exchange/lob/internal/orderbook"
	"github.com/exchange/lob/pkg/health"
	"github.com/exchange/lob/pkg/logger"
)

// Engine is the part of the engine the simulator uses.
type Engine interface {
	Submit(ctx context.Context, o *orderbook.Order) (*engine.Submission, error)
	Depth(ctx context.Context, limit int) (bids, asks []orderbook.PriceQty, err error)
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	// BasePrice in ticks; the reference price when the book is one-sided or
	// empty, or always when AnchorMid is off.
	BasePrice int64
	AnchorMid bool
	// Paused starts the simulator without flow until Resume.
	Paused bool
}

type Simulator struct {
	eng     Engine
	gen     *generator.Generator
	cfg     Config
	log     *logger.Logger
	now     func() time.Time
	monitor health.LoopMonitor

	batch     atomic.Int64
	basePrice atomic.Int64
	paused    atomic.Bool
	submitted atomic.Int64
	rejected  atomic.Int64
}

func New(eng Engine, gen *generator.Generator, cfg Config, log *logger.Logger) (*Simulator, error) {
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.BasePrice <= 0 {
		return nil, fmt.Errorf("sim: base price must be positive, got %d", cfg.BasePrice)
	}
	if gen == nil {
		return nil, errors.New("sim: nil generator")
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &Simulator{
		eng: eng,
		gen: gen,
		cfg: cfg,
		log: log.Component("sim"),
		now: time.Now,
	}
	s.batch.Store(int64(cfg.BatchSize))
	s.basePrice.Store(cfg.BasePrice)
	s.paused.Store(cfg.Paused)
	return s, nil
}

func (s *Simulator) Pause()  { s.paused.Store(true) }
func (s *Simulator) Resume() { s.paused.Store(false) }

func (s *Simulator) Running() bool { return !s.paused.Load() }

func (s *Simulator) SetBatchSize(n int) {
	if n > 0 {
		s.batch.Store(int64(n))
	}
}

func (s *Simulator) SetBasePrice(ticks int64) {
	if ticks > 0 {
		s.basePrice.Store(ticks)
	}
}

func (s *Simulator) Monitor() *health.LoopMonitor { return &s.monitor }

type Status struct {
	Running   bool  `json:"running"`
	BatchSize int   `json:"batchSize"`
	BasePrice int64 `json:"basePrice"`
	AnchorMid bool  `json:"anchorMid"`
	Submitted int64 `json:"submitted"`
	Rejected  int64 `json:"rejected"`
}

func (s *Simulator) Status() Status {
	return Status{
		Running:   s.Running(),
		BatchSize: int(s.batch.Load()),
		BasePrice: s.basePrice.Load(),
		AnchorMid: s.cfg.AnchorMid,
		Submitted: s.submitted.Load(),
		Rejected:  s.rejected.Load(),
	}
}

// Run submits one batch per interval until ctx is done.
func (s *Simulator) Run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			s.monitor.SetError(fmt.Errorf("panic: %v", r))
			s.log.Errorf("simulator panic", map[string]interface{}{
				"panic": r, "stack": string(debug.Stack()),
			})
		}
	}()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		s.monitor.Tick()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if s.paused.Load() {
			continue
		}
		if err := s.Step(ctx); err != nil {
			if errors.Is(err, engine.ErrStopped) || ctx.Err() != nil {
				return
			}
			s.monitor.SetError(err)
			s.log.WithError(err).Warn("simulation step error")
		}
	}
}

// Step submits one batch. A full engine queue ends the batch early.
func (s *Simulator) Step(ctx context.Context) error {
	base, err := s.reference(ctx)
	if err != nil {
		return err
	}
	for _, o := range s.gen.Batch(int(s.batch.Load()), base, s.now()) {
		if _, err := s.eng.Submit(ctx, o); err != nil {
			s.rejected.Add(1)
			return fmt.Errorf("submit order %d: %w", o.ID, err)
		}
		s.submitted.Add(1)
	}
	return nil
}

// reference is the mid of the top of book when anchoring, falling back to
// whichever side exists and then to the configured base price.
func (s *Simulator) reference(ctx context.Context) (int64, error) {
	base := s.basePrice.Load()
	if !s.cfg.AnchorMid {
		return base, nil
	}
	bids, asks, err := s.eng.Depth(ctx, 1)
	if err != nil {
		return 0, fmt.Errorf("top of book: %w", err)
	}
	switch {
	case len(bids) > 0 && len(asks) > 0:
		return (bids[0].Price + asks[0].Price) / 2, nil
	case len(bids) > 0:
		return bids[0].Price, nil
	case len(asks) > 0:
		return asks[0].Price, nil
	}
	return base, nil
}
