// Package api exposes the order book over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/exchange/lob/internal/engine"
	"github.com/exchange/lob/internal/orderbook"
	"github.com/exchange/lob/internal/report"
	"github.com/exchange/lob/internal/sim"
	apperrors "github.com/exchange/lob/pkg/errors"
	"github.com/exchange/lob/pkg/logger"
	"github.com/exchange/lob/pkg/response"
)

// Engine is the engine surface the HTTP handlers use.
type Engine interface {
	Symbol() string
	Submit(ctx context.Context, o *orderbook.Order) (*engine.Submission, error)
	Cancel(ctx context.Context, id int64) (orderbook.Order, bool, error)
	Query(ctx context.Context, fn func(*orderbook.Book)) error
	Snapshot(ctx context.Context) (orderbook.Snapshot, error)
	Depth(ctx context.Context, limit int) (bids, asks []orderbook.PriceQty, err error)
}

type IDSource interface {
	Next() int64
}

// Simulator is the control surface of the order flow simulator.
type Simulator interface {
	Pause()
	Resume()
	SetBatchSize(n int)
	SetBasePrice(ticks int64)
	Status() sim.Status
}

type Server struct {
	eng     Engine
	ids     IDSource
	pricer  report.Pricer
	sim     Simulator
	log     *logger.Logger
	now     func() time.Time
	timeout time.Duration

	// orders entered over HTTP are the tracked position
	posMu     sync.Mutex
	position  *report.Position
	posCursor int64
}

type Option func(*Server)

func WithSimulator(s Simulator) Option {
	return func(srv *Server) { srv.sim = s }
}

func WithLogger(log *logger.Logger) Option {
	return func(srv *Server) {
		if log != nil {
			srv.log = log.Component("api")
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(srv *Server) { srv.now = now }
}

func NewServer(eng Engine, ids IDSource, pricer report.Pricer, position *report.Position, opts ...Option) *Server {
	s := &Server{
		eng:      eng,
		ids:      ids,
		pricer:   pricer,
		position: position,
		log:      logger.Nop(),
		now:      time.Now,
		timeout:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register mounts the API routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/orders", s.handleCreateOrder)
	mux.HandleFunc("GET /v1/orders/{id}", s.handleGetOrder)
	mux.HandleFunc("DELETE /v1/orders/{id}", s.handleCancelOrder)
	mux.HandleFunc("GET /v1/book", s.handleBook)
	mux.HandleFunc("GET /v1/trades", s.handleTrades)
	mux.HandleFunc("GET /v1/disposed", s.handleDisposed)
	mux.HandleFunc("GET /v1/depth", s.handleDepth)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	mux.HandleFunc("GET /v1/position", s.handlePosition)
	mux.HandleFunc("GET /v1/sim", s.handleSimStatus)
	mux.HandleFunc("POST /v1/sim/start", s.handleSimStart)
	mux.HandleFunc("POST /v1/sim/stop", s.handleSimStop)
	mux.HandleFunc("PUT /v1/sim", s.handleSimUpdate)
}

func (s *Server) requestContext(r *http.Request) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), s.timeout)
}

// engineError maps engine failures onto API errors.
func (s *Server) engineError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrQueueFull):
		response.WriteError(w, r, apperrors.ErrSystemBusy)
	case errors.Is(err, engine.ErrStopped):
		response.WriteError(w, r, apperrors.ErrUnavailable)
	case errors.Is(err, context.DeadlineExceeded):
		response.WriteError(w, r, apperrors.New(apperrors.CodeTimeout, "engine did not answer in time"))
	default:
		s.log.WithError(err).Error("engine request failed")
		response.WriteError(w, r, apperrors.New(apperrors.CodeInternal, "internal server error"))
	}
}

func wantsCSV(r *http.Request) bool {
	return r.URL.Query().Get("format") == "csv"
}

func writeCSV(w http.ResponseWriter, body string) {
	response.WriteText(w, http.StatusOK, "text/csv; charset=utf-8", body)
}

func queryInt64(r *http.Request, key string, def int64) (int64, *apperrors.Error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return 0, apperrors.Newf(apperrors.CodeInvalidParam, "invalid %s: %q", key, raw)
	}
	return v, nil
}
