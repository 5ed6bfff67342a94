// Package engine serializes every access to an order book through a single
// goroutine and publishes what happened as events.
package engine

import (
	"context"
	"errors"
	"time"

	"github.com/samber/lo"

	"github.com/exchange/lob/internal/metrics"
	"github.com/exchange/lob/internal/orderbook"
	"github.com/exchange/lob/pkg/health"
	"github.com/exchange/lob/pkg/logger"
)

var (
	ErrStopped   = errors.New("engine stopped")
	ErrQueueFull = errors.New("command queue full")
)

type CommandType int

const (
	CmdSubmit CommandType = iota + 1
	CmdCancel
	CmdSweep
	CmdQuery
)

type command struct {
	typ     CommandType
	order   *orderbook.Order
	orderID int64
	query   func(*orderbook.Book)
	reply   chan reply
}

type reply struct {
	submit   *Submission
	canceled orderbook.Order
	found    bool
	swept    []orderbook.Order
}

// Submission is the outcome of one Submit: the order state right after it was
// processed and everything the book reported.
type Submission struct {
	Order orderbook.Order `json:"order"`
	orderbook.Result
}

type Config struct {
	CommandBuffer int
	EventBuffer   int
	// IdleTick keeps the loop monitor fresh while no commands arrive.
	IdleTick time.Duration
}

type Engine struct {
	symbol string
	book   *orderbook.Book
	log    *logger.Logger

	cmdCh   chan *command
	eventCh chan *Event
	seq     int64

	monitor  *health.LoopMonitor
	idleTick time.Duration

	ctx    context.Context
	cancel context.CancelFunc
}

// New wraps book. The engine becomes the book's only writer; nothing else
// may touch book once Start is called.
func New(book *orderbook.Book, cfg Config, log *logger.Logger) *Engine {
	if cfg.CommandBuffer <= 0 {
		cfg.CommandBuffer = 1024
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 4096
	}
	if cfg.IdleTick <= 0 {
		cfg.IdleTick = 5 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		symbol:   book.Symbol(),
		book:     book,
		log:      log.Component("engine"),
		cmdCh:    make(chan *command, cfg.CommandBuffer),
		eventCh:  make(chan *Event, cfg.EventBuffer),
		monitor:  &health.LoopMonitor{},
		idleTick: cfg.IdleTick,
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (e *Engine) Symbol() string { return e.symbol }

func (e *Engine) Start() {
	e.monitor.Tick()
	go e.run()
}

func (e *Engine) Stop() {
	e.cancel()
}

func (e *Engine) Done() <-chan struct{} {
	return e.ctx.Done()
}

// Events must be drained; the loop blocks while the channel is full.
func (e *Engine) Events() <-chan *Event {
	return e.eventCh
}

func (e *Engine) Monitor() *health.LoopMonitor {
	return e.monitor
}

// Submit 提交订单到撮合循环，之后 o 归引擎所有
func (e *Engine) Submit(ctx context.Context, o *orderbook.Order) (*Submission, error) {
	r, err := e.do(ctx, &command{typ: CmdSubmit, order: o})
	if err != nil {
		return nil, err
	}
	return r.submit, nil
}

// Cancel 撤单；订单不在簿中时 found=false
func (e *Engine) Cancel(ctx context.Context, id int64) (orderbook.Order, bool, error) {
	r, err := e.do(ctx, &command{typ: CmdCancel, orderID: id})
	if err != nil {
		return orderbook.Order{}, false, err
	}
	return r.canceled, r.found, nil
}

// Sweep expires due orders without submitting anything.
func (e *Engine) Sweep(ctx context.Context) ([]orderbook.Order, error) {
	r, err := e.do(ctx, &command{typ: CmdSweep})
	if err != nil {
		return nil, err
	}
	return r.swept, nil
}

// Query runs fn on the loop goroutine. fn must only read and must copy
// anything it keeps.
func (e *Engine) Query(ctx context.Context, fn func(*orderbook.Book)) error {
	_, err := e.do(ctx, &command{typ: CmdQuery, query: fn})
	return err
}

func (e *Engine) Snapshot(ctx context.Context) (orderbook.Snapshot, error) {
	var snap orderbook.Snapshot
	err := e.Query(ctx, func(b *orderbook.Book) { snap = b.Snapshot() })
	return snap, err
}

func (e *Engine) Depth(ctx context.Context, limit int) (bids, asks []orderbook.PriceQty, err error) {
	err = e.Query(ctx, func(b *orderbook.Book) { bids, asks = b.Depth(limit) })
	return bids, asks, err
}

func (e *Engine) do(ctx context.Context, cmd *command) (reply, error) {
	cmd.reply = make(chan reply, 1)

	select {
	case <-e.ctx.Done():
		return reply{}, ErrStopped
	default:
	}

	select {
	case e.cmdCh <- cmd:
	case <-e.ctx.Done():
		return reply{}, ErrStopped
	default:
		metrics.IncQueueRejected()
		return reply{}, ErrQueueFull
	}

	select {
	case r := <-cmd.reply:
		return r, nil
	case <-ctx.Done():
		return reply{}, ctx.Err()
	case <-e.ctx.Done():
		return reply{}, ErrStopped
	}
}

func (e *Engine) run() {
	idle := time.NewTicker(e.idleTick)
	defer idle.Stop()

	for {
		select {
		case cmd := <-e.cmdCh:
			cmd.reply <- e.process(cmd)
			e.monitor.Tick()
		case <-idle.C:
			e.monitor.Tick()
		case <-e.ctx.Done():
			return
		}
	}
}

func (e *Engine) process(cmd *command) reply {
	switch cmd.typ {
	case CmdSubmit:
		return reply{submit: e.processSubmit(cmd.order)}
	case CmdCancel:
		o, ok := e.book.Cancel(cmd.orderID)
		if ok {
			metrics.AddOrdersDisposed(e.symbol, "cancelled", 1)
			e.emit(EventOrderCanceled, orderData(o, 0, "USER_CANCELED"))
		}
		return reply{canceled: o, found: ok}
	case CmdSweep:
		swept := e.book.Sweep()
		e.emitExpired(swept)
		return reply{swept: swept}
	case CmdQuery:
		cmd.query(e.book)
	}
	return reply{}
}

func (e *Engine) processSubmit(o *orderbook.Order) *Submission {
	if o == nil {
		return &Submission{}
	}
	original := o.Quantity
	ignored := o.Status.Terminal()
	start := time.Now()
	res := e.book.Submit(o)
	metrics.ObserveMatchingLatency(time.Since(start))

	sub := &Submission{Order: *o, Result: *res}
	if ignored {
		return sub
	}
	metrics.IncOrdersProcessed(e.symbol, o.Kind.String())
	e.emitExpired(res.Expired)

	for i, tr := range res.Trades {
		e.emit(EventTradeCreated, &TradeData{
			TradeID:   tr.TradeID,
			OrderID:   tr.OrderID,
			Side:      tr.Side.String(),
			Price:     tr.Price,
			Quantity:  tr.Quantity,
			Timestamp: tr.Timestamp,
			Aggressor: i%2 == 0,
		})
	}
	metrics.AddTradesCreated(e.symbol, len(res.Trades))

	for _, maker := range res.Filled {
		e.emit(EventOrderFilled, orderData(maker, executedAsMaker(res.Trades, maker.ID), ""))
	}
	// the partially filled maker, if any, is the last resting trade that did not fill
	if n := len(res.Trades); n > 0 {
		last := res.Trades[n-1]
		if !lo.ContainsBy(res.Filled, func(f orderbook.Order) bool { return f.ID == last.OrderID }) {
			if maker, ok := e.book.Lookup(last.OrderID); ok {
				e.emit(EventOrderPartiallyFilled, orderData(maker, last.Quantity, ""))
			}
		}
	}

	executed := executedAsTaker(res.Trades)
	switch {
	case res.Rested && executed > 0:
		e.emit(EventOrderPartiallyFilled, orderData(sub.Order, executed, ""))
		e.emit(EventOrderAccepted, orderData(sub.Order, executed, ""))
	case res.Rested:
		e.emit(EventOrderAccepted, orderData(sub.Order, 0, ""))
	case executed > 0 && executed == original:
		e.emit(EventOrderFilled, orderData(sub.Order, executed, ""))
	default:
		reason := "NO_LIQUIDITY"
		if original <= 0 {
			reason = "NON_POSITIVE_QUANTITY"
		} else if executed > 0 {
			reason = "REMAINDER_DISCARDED"
		}
		e.emit(EventOrderClosed, orderData(sub.Order, executed, reason))
	}

	e.log.Debugf("order processed", map[string]interface{}{
		"orderId": o.ID,
		"trades":  len(res.Trades),
		"rested":  res.Rested,
		"expired": len(res.Expired),
	})
	return sub
}

func (e *Engine) emitExpired(swept []orderbook.Order) {
	for _, o := range swept {
		e.emit(EventOrderExpired, orderData(o, 0, "EXPIRED"))
	}
	metrics.AddOrdersDisposed(e.symbol, "expired", len(swept))
}

func (e *Engine) emit(eventType EventType, data interface{}) {
	e.seq++
	event := &Event{
		Type:      eventType,
		Symbol:    e.symbol,
		Seq:       e.seq,
		Timestamp: time.Now().UnixNano(),
		Data:      data,
	}

	select {
	case e.eventCh <- event:
	case <-e.ctx.Done():
	}
}

// Trades come in aggressor/resting pairs.
func executedAsTaker(trades []orderbook.Trade) int64 {
	var qty int64
	for i := 0; i < len(trades); i += 2 {
		qty += trades[i].Quantity
	}
	return qty
}

func executedAsMaker(trades []orderbook.Trade, id int64) int64 {
	var qty int64
	for i := 1; i < len(trades); i += 2 {
		if trades[i].OrderID == id {
			qty += trades[i].Quantity
		}
	}
	return qty
}
