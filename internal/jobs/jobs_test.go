package jobs

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/exchange/lob/internal/engine"
	"github.com/exchange/lob/internal/metrics"
	"github.com/exchange/lob/internal/orderbook"
)

type fakeClock struct{ now atomic.Int64 }

func (c *fakeClock) Now() time.Time { return time.Unix(0, c.now.Load()) }

func startEngine(t *testing.T, clock *fakeClock) *engine.Engine {
	t.Helper()
	eng := engine.New(orderbook.New("JOBS", orderbook.WithClock(clock.Now)), engine.Config{}, nil)
	eng.Start()
	ctx, cancel := context.WithCancel(context.Background())
	go engine.Fanout(ctx, eng.Events(), nil)
	t.Cleanup(func() {
		cancel()
		eng.Stop()
	})
	return eng
}

func TestSweepExpiresRestingOrders(t *testing.T) {
	clock := &fakeClock{}
	clock.now.Store(1_000)
	eng := startEngine(t, clock)
	ctx := context.Background()

	if _, err := eng.Submit(ctx, orderbook.NewLimit(1, orderbook.SideBuy, 100, 5, 1_000, 2_000)); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := eng.Submit(ctx, orderbook.NewLimit(2, orderbook.SideBuy, 99, 5, 1_000, 0)); err != nil {
		t.Fatalf("submit: %v", err)
	}

	clock.now.Store(2_000)
	if err := Sweep(eng, nil)(ctx); err != nil {
		t.Fatalf("sweep job: %v", err)
	}

	snap, err := eng.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snap.Bids) != 1 || snap.Bids[0].ID != 2 {
		t.Fatalf("expected only GTC order resting, got %+v", snap.Bids)
	}
	if len(snap.Disposed) != 1 || snap.Disposed[0].Status != orderbook.StatusExpired {
		t.Fatalf("expected one expired order archived, got %+v", snap.Disposed)
	}
}

func TestRefreshDepthSetsGauge(t *testing.T) {
	clock := &fakeClock{}
	eng := startEngine(t, clock)
	ctx := context.Background()

	eng.Submit(ctx, orderbook.NewLimit(1, orderbook.SideBuy, 100, 5, 0, 0))
	eng.Submit(ctx, orderbook.NewLimit(2, orderbook.SideBuy, 99, 7, 0, 0))
	eng.Submit(ctx, orderbook.NewLimit(3, orderbook.SideSell, 105, 4, 0, 0))

	if err := RefreshDepth(eng, 10)(ctx); err != nil {
		t.Fatalf("refresh depth: %v", err)
	}

	rec := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`lob_orderbook_depth{side="buy",symbol="JOBS"} 12`,
		`lob_orderbook_depth{side="sell",symbol="JOBS"} 4`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestSchedulerRunsJobs(t *testing.T) {
	s := NewScheduler(nil)
	var runs atomic.Int32
	if err := s.Add("count", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}); err != nil {
		t.Fatalf("add: %v", err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for runs.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("job never ran")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := NewScheduler(nil)
	if err := s.Add("bad", "every second", func(context.Context) error { return nil }); err == nil {
		t.Fatal("expected parse error")
	}
	if err := s.Add("six-field", "*/2 * * * * *", func(context.Context) error { return nil }); err != nil {
		t.Fatalf("seconds field should parse: %v", err)
	}
}

func TestSweepReportsStoppedEngine(t *testing.T) {
	eng := engine.New(orderbook.New("STOPPED"), engine.Config{}, nil)
	eng.Stop()
	if err := Sweep(eng, nil)(context.Background()); err == nil {
		t.Fatal("expected error from stopped engine")
	}
}

func TestKVFields(t *testing.T) {
	fields := kvFields([]interface{}{"entry", 3, "now", "x", "dangling"})
	if len(fields) != 2 || fields["entry"] != 3 {
		t.Fatalf("unexpected fields %+v", fields)
	}
}
