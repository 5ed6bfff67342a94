package store

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/exchange/lob/internal/engine"
)

var (
	insertTrade = regexp.QuoteMeta(`
		INSERT INTO lob.trades
		(symbol, trade_id, order_id, side, price, qty, aggressor, timestamp_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	insertDisposed = regexp.QuoteMeta(`
		INSERT INTO lob.disposed_orders
		(symbol, order_id, side, kind, price, qty, status, expires_at_ns, seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`)
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock new: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db), mock
}

func TestStore_SaveTrade(t *testing.T) {
	s, mock := newMock(t)
	trade := &engine.TradeData{
		TradeID: 3, OrderID: 17, Side: "BUY", Price: 10050, Quantity: 4, Timestamp: 1700000000000000000, Aggressor: true,
	}

	mock.ExpectExec(insertTrade).
		WithArgs("TEST", int64(3), int64(17), "BUY", int64(10050), int64(4), true, int64(1700000000000000000)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.SaveTrade(context.Background(), "TEST", trade); err != nil {
		t.Fatalf("save trade: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStore_SaveTradeDuplicate(t *testing.T) {
	s, mock := newMock(t)

	mock.ExpectExec(insertTrade).WillReturnError(&pq.Error{Code: uniqueViolation})

	err := s.SaveTrade(context.Background(), "TEST", &engine.TradeData{TradeID: 1})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestStore_ConsumeDisposed(t *testing.T) {
	s, mock := newMock(t)
	ev := &engine.Event{
		Type:   engine.EventOrderExpired,
		Symbol: "TEST",
		Seq:    9,
		Data: &engine.OrderData{
			OrderID: 5, Side: "SELL", Kind: "LIMIT", Price: 101, LeavesQty: 7, Status: "EXPIRED", ExpiresAt: 42,
		},
	}

	mock.ExpectExec(insertDisposed).
		WithArgs("TEST", int64(5), "SELL", "LIMIT", int64(101), int64(7), "EXPIRED", int64(42), int64(9)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	if err := s.Consume(context.Background(), ev); err != nil {
		t.Fatalf("consume: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStore_ConsumeSkipsOtherEventsAndDuplicates(t *testing.T) {
	s, mock := newMock(t)
	ctx := context.Background()

	if err := s.Consume(ctx, &engine.Event{Type: engine.EventOrderAccepted, Data: &engine.OrderData{}}); err != nil {
		t.Fatalf("accepted event should be ignored: %v", err)
	}

	mock.ExpectExec(insertTrade).WillReturnError(&pq.Error{Code: uniqueViolation})
	if err := s.Consume(ctx, &engine.Event{Type: engine.EventTradeCreated, Data: &engine.TradeData{TradeID: 1}}); err != nil {
		t.Fatalf("duplicate trade should be swallowed: %v", err)
	}

	mock.ExpectExec(insertTrade).WillReturnError(errors.New("connection reset"))
	if err := s.Consume(ctx, &engine.Event{Type: engine.EventTradeCreated, Data: &engine.TradeData{TradeID: 2}}); err == nil {
		t.Fatalf("expected driver error to surface")
	}

	if err := s.Consume(ctx, &engine.Event{Type: engine.EventOrderCanceled, Data: "bogus"}); err == nil {
		t.Fatalf("expected payload type error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestStore_Migrate(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(regexp.QuoteMeta("CREATE SCHEMA IF NOT EXISTS lob")).WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
