// Package jobs runs periodic book maintenance through the engine queue.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/samber/lo"

	"github.com/exchange/lob/internal/metrics"
	"github.com/exchange/lob/internal/orderbook"
	"github.com/exchange/lob/pkg/logger"
)

// Engine is what the maintenance jobs need from the engine.
type Engine interface {
	Symbol() string
	Sweep(ctx context.Context) ([]orderbook.Order, error)
	Depth(ctx context.Context, limit int) (bids, asks []orderbook.PriceQty, err error)
}

const defaultJobTimeout = 5 * time.Second

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Scheduler struct {
	cron    *cron.Cron
	log     *logger.Logger
	timeout time.Duration
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Nop()
	}
	log = log.Component("jobs")
	ctx, cancel := context.WithCancel(context.Background())
	cl := cronLogger{log: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     log,
		timeout: defaultJobTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Add schedules fn under spec, e.g. "@every 1s" or "*/5 * * * * *".
func (s *Scheduler) Add(name, spec string, fn func(ctx context.Context) error) error {
	schedule, err := parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("job %s: invalid schedule %q: %w", name, spec, err)
	}
	s.cron.Schedule(schedule, cron.FuncJob(func() {
		if s.ctx.Err() != nil {
			return
		}
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			s.log.WithError(err).WithField("job", name).Warn("job failed")
		}
	}))
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Sweep expires due resting orders even when no order flow arrives.
func Sweep(eng Engine, log *logger.Logger) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		swept, err := eng.Sweep(ctx)
		if err != nil {
			return fmt.Errorf("sweep: %w", err)
		}
		if len(swept) > 0 && log != nil {
			log.Debugf("expired resting orders", map[string]interface{}{
				"symbol": eng.Symbol(),
				"count":  len(swept),
			})
		}
		return nil
	}
}

// RefreshDepth publishes resting quantity over the top levels per side.
func RefreshDepth(eng Engine, levels int) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		bids, asks, err := eng.Depth(ctx, levels)
		if err != nil {
			return fmt.Errorf("depth: %w", err)
		}
		qty := func(l orderbook.PriceQty) int64 { return l.Qty }
		metrics.SetOrderbookDepth(eng.Symbol(), "buy", float64(lo.SumBy(bids, qty)))
		metrics.SetOrderbookDepth(eng.Symbol(), "sell", float64(lo.SumBy(asks, qty)))
		return nil
	}
}

type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugf("cron: "+msg, kvFields(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).Errorf("cron: "+msg, kvFields(keysAndValues))
}

func kvFields(kv []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
