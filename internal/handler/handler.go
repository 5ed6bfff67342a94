// Package handler connects the engine to redis streams: orders come in on a
// consumer group, engine events go out on an event stream.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/exchange/lob/internal/engine"
	"github.com/exchange/lob/internal/metrics"
	"github.com/exchange/lob/internal/orderbook"
	"github.com/exchange/lob/pkg/health"
	"github.com/exchange/lob/pkg/logger"
	"github.com/exchange/lob/pkg/tracing"
)

// OrderService is the part of the engine the handler drives.
type OrderService interface {
	Symbol() string
	Submit(ctx context.Context, o *orderbook.Order) (*engine.Submission, error)
	Cancel(ctx context.Context, id int64) (orderbook.Order, bool, error)
}

// IDAllocator assigns ids to messages that arrive without one and reserves
// ids chosen by producers. Reserve fails for ids that were already used.
type IDAllocator interface {
	Next() int64
	Reserve(id int64) bool
}

// OrderMessage is one entry of the order stream, JSON encoded under "data".
type OrderMessage struct {
	Type      string `json:"type"` // NEW / CANCEL
	OrderID   int64  `json:"orderId"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`      // BUY / SELL
	OrderType string `json:"orderType"` // LIMIT / MARKET
	Price     int64  `json:"price"`     // ticks
	Qty       int64  `json:"qty"`
	ExpiresAt int64  `json:"expiresAt"` // unix ms, 0 = GTC
}

type Handler struct {
	redis    *redis.Client
	svc      OrderService
	ids      IDAllocator
	log      *logger.Logger
	now      func() time.Time
	loop     health.LoopMonitor
	cfg      Config
	dlqName  string
	claimAge time.Duration

	// ids reserved by messages the engine refused; their redelivery may reuse them.
	// Only touched from the consume loop goroutine.
	unsubmitted map[int64]struct{}
}

const (
	defaultMaxStreamRetries = 10
	defaultClaimMinIdle     = 30 * time.Second
	maxPublishAttempts      = 5
)

type Config struct {
	OrderStream string
	EventStream string
	Group       string
	Consumer    string
	DedupeTTL   time.Duration
	Logger      *logger.Logger
}

func New(client *redis.Client, svc OrderService, ids IDAllocator, cfg Config) *Handler {
	if cfg.DedupeTTL <= 0 {
		cfg.DedupeTTL = 24 * time.Hour
	}
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{
		redis:    client,
		svc:      svc,
		ids:      ids,
		log:      log.Component("handler"),
		now:      time.Now,
		cfg:      cfg,
		dlqName:  cfg.OrderStream + ":dlq",
		claimAge: defaultClaimMinIdle,

		unsubmitted: make(map[int64]struct{}),
	}
}

// Start creates the consumer group and launches the consume loop.
func (h *Handler) Start(ctx context.Context) error {
	err := h.redis.XGroupCreateMkStream(ctx, h.cfg.OrderStream, h.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}
	h.loop.Tick()
	go h.consumeLoop(ctx)
	return nil
}

func (h *Handler) Monitor() *health.LoopMonitor {
	return &h.loop
}

func (h *Handler) consumeLoop(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			h.loop.SetError(fmt.Errorf("panic: %v", r))
			h.log.Errorf("consumeLoop panic", map[string]interface{}{
				"panic": r, "stack": string(debug.Stack()),
			})
		}
	}()

	pendingTicker := time.NewTicker(h.claimAge)
	defer pendingTicker.Stop()

	if err := h.processPending(ctx); err != nil {
		h.loop.SetError(err)
		h.log.WithError(err).Warn("process pending error")
	}

	for {
		h.loop.Tick()

		select {
		case <-ctx.Done():
			return
		case <-pendingTicker.C:
			if err := h.processPending(ctx); err != nil {
				h.loop.SetError(err)
				h.log.WithError(err).Warn("process pending error")
			}
			continue
		default:
		}

		results, err := h.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    h.cfg.Group,
			Consumer: h.cfg.Consumer,
			Streams:  []string{h.cfg.OrderStream, ">"},
			Count:    100,
			Block:    time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			metrics.IncStreamError("read")
			h.loop.SetError(err)
			h.log.WithError(err).Warn("read stream error")
			time.Sleep(100 * time.Millisecond)
			continue
		}

		for _, result := range results {
			for _, msg := range result.Messages {
				h.processMessage(ctx, msg)
			}
		}
	}
}

// processMessage acks everything except commands the engine could not take;
// those stay pending and are retried by processPending.
func (h *Handler) processMessage(ctx context.Context, msg redis.XMessage) {
	data, ok := msg.Values["data"].(string)
	if !ok {
		h.reject(ctx, msg, "missing data field")
		return
	}

	var om OrderMessage
	if err := json.Unmarshal([]byte(data), &om); err != nil {
		h.reject(ctx, msg, "malformed json: "+err.Error())
		return
	}
	if om.Symbol != "" && om.Symbol != h.svc.Symbol() {
		h.reject(ctx, msg, "unknown symbol "+om.Symbol)
		return
	}
	if !h.shouldProcess(ctx, &om) {
		h.ack(ctx, msg.ID)
		return
	}

	ctx = tracing.ExtractRedisStream(ctx, msg.Values)
	ctx, span := tracing.StartSpan(ctx, "handler.order")
	defer span.End()

	var err error
	switch strings.ToUpper(om.Type) {
	case "CANCEL":
		_, _, err = h.svc.Cancel(ctx, om.OrderID)
	case "NEW", "":
		var o *orderbook.Order
		o, err = h.toOrder(&om)
		if err != nil {
			h.reject(ctx, msg, err.Error())
			return
		}
		if _, err = h.svc.Submit(ctx, o); err != nil && om.OrderID > 0 {
			h.unsubmitted[o.ID] = struct{}{}
		}
	default:
		h.reject(ctx, msg, "unknown message type "+om.Type)
		return
	}

	if err != nil {
		metrics.IncStreamError("submit")
		tracing.SetError(ctx, err)
		h.forgetDedupe(ctx, &om)
		h.log.WithError(err).Warnf("submit command error", map[string]interface{}{"msgId": msg.ID})
		return
	}
	h.ack(ctx, msg.ID)
}

func (h *Handler) toOrder(msg *OrderMessage) (*orderbook.Order, error) {
	side, err := orderbook.ParseSide(msg.Side)
	if err != nil {
		return nil, err
	}
	kind := orderbook.KindLimit
	if msg.OrderType != "" {
		if kind, err = orderbook.ParseKind(msg.OrderType); err != nil {
			return nil, err
		}
	}
	if kind == orderbook.KindLimit && msg.Price <= 0 {
		return nil, fmt.Errorf("limit price must be positive, got %d", msg.Price)
	}

	id := msg.OrderID
	if id <= 0 {
		id = h.ids.Next()
	} else if !h.ids.Reserve(id) {
		if _, retry := h.unsubmitted[id]; !retry {
			return nil, fmt.Errorf("order id %d already used", id)
		}
		delete(h.unsubmitted, id)
	}

	now := h.now().UnixNano()
	if kind == orderbook.KindMarket {
		return orderbook.NewMarket(id, side, msg.Qty, now), nil
	}
	var expiresAt int64
	if msg.ExpiresAt > 0 {
		expiresAt = time.UnixMilli(msg.ExpiresAt).UnixNano()
	}
	return orderbook.NewLimit(id, side, msg.Price, msg.Qty, now, expiresAt), nil
}

func dedupeKey(msg *OrderMessage) string {
	return fmt.Sprintf("dedupe:%s:%d", strings.ToLower(msg.Type), msg.OrderID)
}

func (h *Handler) shouldProcess(ctx context.Context, msg *OrderMessage) bool {
	if msg.OrderID <= 0 {
		return true
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	ok, err := h.redis.SetNX(timeoutCtx, dedupeKey(msg), "1", h.cfg.DedupeTTL).Result()
	if err != nil {
		h.log.WithError(err).Warn("dedupe check error")
		return true
	}
	return ok
}

// forgetDedupe lets a retried message through after the engine refused it.
func (h *Handler) forgetDedupe(ctx context.Context, msg *OrderMessage) {
	if msg.OrderID <= 0 {
		return
	}
	if err := h.redis.Del(ctx, dedupeKey(msg)).Err(); err != nil {
		h.log.WithError(err).Warn("dedupe release error")
	}
}

func (h *Handler) processPending(ctx context.Context) error {
	pending, err := h.redis.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: h.cfg.OrderStream,
		Group:  h.cfg.Group,
		Start:  "-",
		End:    "+",
		Count:  100,
	}).Result()
	if err != nil {
		return err
	}

	var ids []string
	dlqIDs := make(map[string]int64)
	for _, entry := range pending {
		if entry.Idle >= h.claimAge {
			ids = append(ids, entry.ID)
			if entry.RetryCount > defaultMaxStreamRetries {
				dlqIDs[entry.ID] = entry.RetryCount
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}

	claimed, err := h.redis.XClaim(ctx, &redis.XClaimArgs{
		Stream:   h.cfg.OrderStream,
		Group:    h.cfg.Group,
		Consumer: h.cfg.Consumer,
		MinIdle:  h.claimAge,
		Messages: ids,
	}).Result()
	if err != nil {
		return err
	}

	for _, msg := range claimed {
		if retryCount, toDLQ := dlqIDs[msg.ID]; toDLQ {
			h.reject(ctx, msg, fmt.Sprintf("max retries exceeded: %d", retryCount))
			continue
		}
		h.processMessage(ctx, msg)
	}
	return nil
}

// reject moves a message to the dead letter stream and acks it.
func (h *Handler) reject(ctx context.Context, msg redis.XMessage, reason string) {
	_, err := h.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: h.dlqName,
		Values: map[string]interface{}{
			"stream":   h.cfg.OrderStream,
			"msgId":    msg.ID,
			"reason":   reason,
			"data":     msg.Values["data"],
			"tsMs":     h.now().UnixMilli(),
			"group":    h.cfg.Group,
			"consumer": h.cfg.Consumer,
		},
	}).Result()
	if err != nil {
		metrics.IncStreamError("dlq")
		h.log.WithError(err).Warn("send dlq error")
		return
	}
	h.log.Warnf("message rejected", map[string]interface{}{"msgId": msg.ID, "reason": reason})
	h.ack(ctx, msg.ID)
}

func (h *Handler) ack(ctx context.Context, id string) {
	if err := h.redis.XAck(ctx, h.cfg.OrderStream, h.cfg.Group, id).Err(); err != nil {
		metrics.IncStreamError("ack")
		h.log.WithError(err).WithField("msgId", id).Warn("ack message error")
	}
}

func (h *Handler) Name() string { return "redis" }

// Consume publishes one engine event to the event stream.
func (h *Handler) Consume(ctx context.Context, ev *engine.Event) error {
	payload, err := json.Marshal(ev.Message())
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return h.publishEvent(ctx, payload)
}

func (h *Handler) publishEvent(ctx context.Context, payload []byte) error {
	values := map[string]interface{}{"data": string(payload)}
	tracing.InjectRedisStream(ctx, values)

	backoff := 50 * time.Millisecond
	var err error
	for attempt := 1; attempt <= maxPublishAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		err = h.redis.XAdd(sendCtx, &redis.XAddArgs{
			Stream: h.cfg.EventStream,
			Values: values,
		}).Err()
		cancel()
		if err == nil {
			return nil
		}
		metrics.IncStreamError("publish")
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, 2*time.Second)
	}
	return fmt.Errorf("publish event after %d attempts: %w", maxPublishAttempts, err)
}
