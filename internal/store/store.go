// Package store appends trades and disposed orders to postgres audit tables.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/exchange/lob/internal/engine"
)

var ErrDuplicate = errors.New("duplicate audit record")

const uniqueViolation = "23505"

const schema = `
	CREATE SCHEMA IF NOT EXISTS lob;
	CREATE TABLE IF NOT EXISTS lob.trades (
		symbol       TEXT    NOT NULL,
		trade_id     BIGINT  NOT NULL,
		order_id     BIGINT  NOT NULL,
		side         TEXT    NOT NULL,
		price        BIGINT  NOT NULL,
		qty          BIGINT  NOT NULL,
		aggressor    BOOLEAN NOT NULL,
		timestamp_ns BIGINT  NOT NULL,
		PRIMARY KEY (symbol, trade_id)
	);
	CREATE TABLE IF NOT EXISTS lob.disposed_orders (
		symbol        TEXT   NOT NULL,
		order_id      BIGINT NOT NULL,
		side          TEXT   NOT NULL,
		kind          TEXT   NOT NULL,
		price         BIGINT NOT NULL,
		qty           BIGINT NOT NULL,
		status        TEXT   NOT NULL,
		expires_at_ns BIGINT NOT NULL,
		seq           BIGINT NOT NULL,
		PRIMARY KEY (symbol, order_id)
	);
`

// Open connects to postgres and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create audit schema: %w", err)
	}
	return nil
}

func (s *Store) SaveTrade(ctx context.Context, symbol string, t *engine.TradeData) error {
	query := `
		INSERT INTO lob.trades
		(symbol, trade_id, order_id, side, price, qty, aggressor, timestamp_ns)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.ExecContext(ctx, query,
		symbol, t.TradeID, t.OrderID, t.Side, t.Price, t.Quantity, t.Aggressor, t.Timestamp,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert trade: %w", err)
	}
	return nil
}

// SaveDisposed records a cancelled or expired order with the quantity it
// still had when it left the book.
func (s *Store) SaveDisposed(ctx context.Context, symbol string, seq int64, o *engine.OrderData) error {
	query := `
		INSERT INTO lob.disposed_orders
		(symbol, order_id, side, kind, price, qty, status, expires_at_ns, seq)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		symbol, o.OrderID, o.Side, o.Kind, o.Price, o.LeavesQty, o.Status, o.ExpiresAt, seq,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("insert disposed order: %w", err)
	}
	return nil
}

func (s *Store) Name() string { return "postgres" }

// Consume stores trades and disposals. Other events are ignored, as are
// records already present.
func (s *Store) Consume(ctx context.Context, ev *engine.Event) error {
	var err error
	switch ev.Type {
	case engine.EventTradeCreated:
		t, ok := ev.Data.(*engine.TradeData)
		if !ok {
			return fmt.Errorf("trade event %d: unexpected payload %T", ev.Seq, ev.Data)
		}
		err = s.SaveTrade(ctx, ev.Symbol, t)
	case engine.EventOrderCanceled, engine.EventOrderExpired:
		o, ok := ev.Data.(*engine.OrderData)
		if !ok {
			return fmt.Errorf("order event %d: unexpected payload %T", ev.Seq, ev.Data)
		}
		err = s.SaveDisposed(ctx, ev.Symbol, ev.Seq, o)
	default:
		return nil
	}
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
