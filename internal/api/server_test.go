package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/exchange/lob/internal/engine"
	"github.com/exchange/lob/internal/orderbook"
	"github.com/exchange/lob/internal/report"
	"github.com/exchange/lob/internal/sequence"
	"github.com/exchange/lob/internal/sim"
	apperrors "github.com/exchange/lob/pkg/errors"
)

var epoch = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

type testServer struct {
	eng *engine.Engine
	srv *Server
	mux *http.ServeMux
	now time.Time
}

func newTestServer(t *testing.T, opts ...Option) *testServer {
	t.Helper()
	ts := &testServer{now: epoch}
	clock := func() time.Time { return ts.now }

	ts.eng = engine.New(orderbook.New("TEST", orderbook.WithClock(clock)), engine.Config{}, nil)
	ts.eng.Start()
	ctx, cancel := context.WithCancel(context.Background())
	go engine.Fanout(ctx, ts.eng.Events(), nil)
	t.Cleanup(func() {
		cancel()
		ts.eng.Stop()
	})

	pricer := report.NewPricer(decimal.RequireFromString("0.01"))
	opts = append([]Option{WithClock(clock)}, opts...)
	ts.srv = NewServer(ts.eng, sequence.NewCounter(0), pricer, report.NewPosition(decimal.NewFromInt(1000), pricer), opts...)
	ts.mux = http.NewServeMux()
	ts.srv.Register(ts.mux)
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func TestCreateOrderRestsAndMatches(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "POST", "/v1/orders", `{"side":"sell","price":"1.05","quantity":5}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", rec.Code, rec.Body.String())
	}
	first := decode[CreateOrderResponse](t, rec)
	if !first.Rested || first.Order.ID != 1 || first.Order.Status != "OPEN" {
		t.Fatalf("unexpected first response %+v", first)
	}

	rec = ts.do(t, "POST", "/v1/orders", `{"side":"buy","type":"limit","price":"1.10","quantity":3}`)
	second := decode[CreateOrderResponse](t, rec)
	if second.Rested || second.Order.Status != "CLOSED" || second.Order.Quantity != 0 {
		t.Fatalf("unexpected second response %+v", second)
	}
	if len(second.Trades) != 2 {
		t.Fatalf("expected two trade records, got %d", len(second.Trades))
	}
	if !second.Trades[0].Price.Equal(decimal.RequireFromString("1.05")) || second.Trades[0].OrderID != 2 {
		t.Fatalf("aggressor record should execute at the resting price: %+v", second.Trades[0])
	}
	if second.Trades[1].OrderID != 1 || second.Trades[1].Quantity != 3 {
		t.Fatalf("unexpected resting record %+v", second.Trades[1])
	}
}

func TestCreateOrderValidation(t *testing.T) {
	ts := newTestServer(t)
	cases := []struct {
		body string
		code apperrors.Code
	}{
		{`{"side":"hold","price":"1","quantity":1}`, apperrors.CodeInvalidSide},
		{`{"side":"buy","type":"stop","price":"1","quantity":1}`, apperrors.CodeInvalidOrderType},
		{`{"side":"buy","price":"1","quantity":0}`, apperrors.CodeInvalidQuantity},
		{`{"side":"buy","price":"0","quantity":1}`, apperrors.CodeInvalidPrice},
		{`{"side":"buy","price":"1.005","quantity":1}`, apperrors.CodeInvalidPrice},
		{`{"side":"buy","price":"1","quantity":1,"expiresIn":"soon"}`, apperrors.CodeInvalidExpiry},
		{`{"side":`, apperrors.CodeInvalidRequest},
	}
	for _, tc := range cases {
		rec := ts.do(t, "POST", "/v1/orders", tc.body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status = %d", tc.body, rec.Code)
		}
		if got := decode[apperrors.Error](t, rec); got.Code != tc.code {
			t.Fatalf("%s: code = %s, want %s", tc.body, got.Code, tc.code)
		}
	}
}

func TestMarketOrderRemainderDiscarded(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "POST", "/v1/orders", `{"side":"sell","price":"2","quantity":2}`)

	rec := ts.do(t, "POST", "/v1/orders", `{"side":"buy","type":"market","quantity":5}`)
	resp := decode[CreateOrderResponse](t, rec)
	if resp.Rested || resp.Order.Quantity != 0 || resp.Order.Status != "CLOSED" {
		t.Fatalf("unexpected market response %+v", resp)
	}
	if len(resp.Filled) != 1 || resp.Filled[0] != 1 {
		t.Fatalf("expected resting order 1 filled, got %v", resp.Filled)
	}
}

func TestCancelAndGetOrder(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "POST", "/v1/orders", `{"side":"buy","price":"1","quantity":4}`)

	rec := ts.do(t, "GET", "/v1/orders/1", "")
	if got := decode[OrderView](t, rec); got.Status != "OPEN" || got.Quantity != 4 {
		t.Fatalf("unexpected order %+v", got)
	}

	rec = ts.do(t, "DELETE", "/v1/orders/1", "")
	if got := decode[OrderView](t, rec); rec.Code != http.StatusOK || got.Status != "CANCELLED" {
		t.Fatalf("cancel: status=%d order=%+v", rec.Code, got)
	}

	rec = ts.do(t, "GET", "/v1/orders/1", "")
	if got := decode[OrderView](t, rec); got.Status != "CANCELLED" {
		t.Fatalf("disposed order should still be found, got %+v", got)
	}

	if rec = ts.do(t, "DELETE", "/v1/orders/1", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("second cancel status = %d", rec.Code)
	}
	if rec = ts.do(t, "DELETE", "/v1/orders/abc", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad id status = %d", rec.Code)
	}
}

func TestBookTradesDisposedCSV(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/v1/trades?format=csv", "")
	if rec.Body.Len() != 0 {
		t.Fatalf("empty ledger should render empty csv, got %q", rec.Body.String())
	}
	rec = ts.do(t, "GET", "/v1/book?format=csv", "")
	if rec.Body.String() != "ID,SIDE,PRICE,QTY,TYPE\n" {
		t.Fatalf("empty book csv = %q", rec.Body.String())
	}

	ts.do(t, "POST", "/v1/orders", `{"side":"buy","price":"1.5","quantity":2,"expiresIn":"1s"}`)
	ts.do(t, "POST", "/v1/orders", `{"side":"sell","price":"1.5","quantity":1}`)

	rec = ts.do(t, "GET", "/v1/book?format=csv", "")
	if !strings.Contains(rec.Body.String(), "1,BUY,1.5,1,LIMIT") {
		t.Fatalf("book csv = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %s", ct)
	}

	rec = ts.do(t, "GET", "/v1/trades?since=1", "")
	trades := decode[[]TradeView](t, rec)
	if len(trades) != 1 || trades[0].TradeID != 2 {
		t.Fatalf("trades since 1 = %+v", trades)
	}

	ts.now = epoch.Add(2 * time.Second)
	ts.do(t, "POST", "/v1/orders", `{"side":"sell","price":"9","quantity":1}`)

	rec = ts.do(t, "GET", "/v1/disposed?format=csv", "")
	want := "ID,SIDE,PRICE,QUANTITY,TYPE,STATUS\n1,BUY,1.5,1,LIMIT,EXPIRED\n"
	if rec.Body.String() != want {
		t.Fatalf("disposed csv = %q, want %q", rec.Body.String(), want)
	}

	rec = ts.do(t, "GET", "/v1/book", "")
	book := decode[BookView](t, rec)
	if len(book.Bids) != 0 || len(book.Asks) != 1 || book.Symbol != "TEST" {
		t.Fatalf("unexpected book %+v", book)
	}
}

func TestDepthAndStats(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "POST", "/v1/orders", `{"side":"buy","price":"1","quantity":2}`)
	ts.do(t, "POST", "/v1/orders", `{"side":"buy","price":"1","quantity":3}`)
	ts.do(t, "POST", "/v1/orders", `{"side":"sell","price":"1.2","quantity":5}`)

	depth := decode[DepthView](t, ts.do(t, "GET", "/v1/depth?limit=5", ""))
	if len(depth.Bids) != 1 || depth.Bids[0].Quantity != 5 || depth.Bids[0].Orders != 2 {
		t.Fatalf("unexpected depth %+v", depth)
	}
	if rec := ts.do(t, "GET", "/v1/depth?limit=-1", ""); rec.Code != http.StatusBadRequest {
		t.Fatalf("negative limit status = %d", rec.Code)
	}

	stats := decode[report.Stats](t, ts.do(t, "GET", "/v1/stats", ""))
	if !stats.Mid.Equal(decimal.RequireFromString("1.1")) || stats.DepthBid != 5 || stats.RestingBids != 2 {
		t.Fatalf("unexpected stats %+v", stats)
	}
}

func TestPositionTracksHTTPOrders(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	// liquidity from outside the API is not part of the position
	if _, err := ts.eng.Submit(ctx, orderbook.NewLimit(100, orderbook.SideSell, 200, 10, epoch.UnixNano(), 0)); err != nil {
		t.Fatalf("seed: %v", err)
	}
	ts.do(t, "POST", "/v1/orders", `{"side":"buy","type":"market","quantity":4}`)

	pos := decode[PositionView](t, ts.do(t, "GET", "/v1/position", ""))
	if pos.Quantity != 4 || !pos.Cash.Equal(decimal.NewFromInt(992)) || !pos.AvgCost.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("unexpected position %+v", pos)
	}

	// polling again must not double count
	pos = decode[PositionView](t, ts.do(t, "GET", "/v1/position", ""))
	if pos.Quantity != 4 {
		t.Fatalf("position changed on re-read: %+v", pos)
	}
}

type fakeSim struct {
	st sim.Status
}

func (f *fakeSim) Pause()                   { f.st.Running = false }
func (f *fakeSim) Resume()                  { f.st.Running = true }
func (f *fakeSim) SetBatchSize(n int)       { f.st.BatchSize = n }
func (f *fakeSim) SetBasePrice(ticks int64) { f.st.BasePrice = ticks }
func (f *fakeSim) Status() sim.Status       { return f.st }

func TestSimulatorControls(t *testing.T) {
	disabled := newTestServer(t)
	if rec := disabled.do(t, "GET", "/v1/sim", ""); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("disabled simulator status = %d", rec.Code)
	}

	fs := &fakeSim{}
	ts := newTestServer(t, WithSimulator(fs))

	if st := decode[sim.Status](t, ts.do(t, "POST", "/v1/sim/start", "")); !st.Running {
		t.Fatalf("expected running after start")
	}
	st := decode[sim.Status](t, ts.do(t, "PUT", "/v1/sim", `{"batchSize":7,"basePrice":"12.34"}`))
	if st.BatchSize != 7 || st.BasePrice != 1234 {
		t.Fatalf("unexpected status %+v", st)
	}
	if rec := ts.do(t, "PUT", "/v1/sim", `{"batchSize":0}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("zero batch status = %d", rec.Code)
	}
	if st := decode[sim.Status](t, ts.do(t, "POST", "/v1/sim/stop", "")); st.Running {
		t.Fatalf("expected stopped")
	}
}

func TestEngineErrorsMapToAPIErrors(t *testing.T) {
	ts := newTestServer(t)
	ts.eng.Stop()

	rec := ts.do(t, "GET", "/v1/book", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("stopped engine status = %d", rec.Code)
	}
	if got := decode[apperrors.Error](t, rec); got.Code != apperrors.CodeUnavailable {
		t.Fatalf("code = %s", got.Code)
	}
}
