package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry = prometheus.NewRegistry()
	once     sync.Once

	matchingLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "lob_matching_latency_seconds",
		Help:    "Time spent inside one book submission.",
		Buckets: []float64{.00001, .00005, .0001, .0005, .001, .005, .01, .05, .1},
	})
	ordersProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lob_orders_processed_total",
			Help: "Orders submitted to the book, by kind.",
		},
		[]string{"symbol", "kind"},
	)
	tradesCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lob_trades_created_total",
			Help: "Trade records appended to the ledger.",
		},
		[]string{"symbol"},
	)
	ordersDisposed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lob_orders_disposed_total",
			Help: "Orders moved to the disposed archive, by reason.",
		},
		[]string{"symbol", "reason"},
	)
	orderbookDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "lob_orderbook_depth",
			Help: "Resting quantity per side.",
		},
		[]string{"symbol", "side"},
	)
	queueRejected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lob_engine_queue_rejected_total",
		Help: "Commands rejected because the engine queue was full.",
	})
	streamErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lob_stream_errors_total",
			Help: "Redis stream failures by stage.",
		},
		[]string{"stage"},
	)
	sinkErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lob_sink_errors_total",
			Help: "Event sink delivery failures.",
		},
		[]string{"sink"},
	)
	wsDropped = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "lob_ws_dropped_total",
		Help: "Websocket messages dropped for slow clients.",
	})
)

// Init registers metrics with the registry once.
func Init() {
	once.Do(func() {
		registry.MustRegister(
			prometheus.NewGoCollector(),
			prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
			matchingLatency,
			ordersProcessed,
			tradesCreated,
			ordersDisposed,
			orderbookDepth,
			queueRejected,
			streamErrors,
			sinkErrors,
			wsDropped,
		)
	})
}

// Handler exposes the Prometheus metrics endpoint handler.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func ObserveMatchingLatency(d time.Duration) {
	Init()
	matchingLatency.Observe(d.Seconds())
}

func IncOrdersProcessed(symbol, kind string) {
	Init()
	ordersProcessed.WithLabelValues(symbol, kind).Inc()
}

// AddTradesCreated counts ledger records; a match adds two.
func AddTradesCreated(symbol string, n int) {
	Init()
	if n <= 0 {
		return
	}
	tradesCreated.WithLabelValues(symbol).Add(float64(n))
}

// AddOrdersDisposed counts archived orders; reason is "expired" or "cancelled".
func AddOrdersDisposed(symbol, reason string, n int) {
	Init()
	if n <= 0 {
		return
	}
	ordersDisposed.WithLabelValues(symbol, reason).Add(float64(n))
}

func SetOrderbookDepth(symbol, side string, depth float64) {
	Init()
	orderbookDepth.WithLabelValues(symbol, side).Set(depth)
}

func IncQueueRejected() {
	Init()
	queueRejected.Inc()
}

func IncStreamError(stage string) {
	Init()
	streamErrors.WithLabelValues(stage).Inc()
}

func IncSinkError(sink string) {
	Init()
	sinkErrors.WithLabelValues(sink).Inc()
}

func IncWSDropped() {
	Init()
	wsDropped.Inc()
}
