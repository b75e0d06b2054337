// Package metrics wraps Prometheus metrics for the engine core: counters for
// orders created/rejected/filled/canceled, a histogram for order-to-ack
// latency, and a gauge for event-bus lag (SPEC_FULL.md §4.11). Grounded on
// exchange-order/internal/metrics.New (registry construction, order-latency
// histogram) and exchange-clearing/internal/metrics.Metrics (typed
// Inc/Observe helpers over a CounterVec of labeled operation kinds).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	ordersCreated  *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	ordersFilled   prometheus.Counter
	ordersCanceled *prometheus.CounterVec

	orderAckLatency prometheus.Histogram
	eventBusLag     prometheus.Gauge

	reservationsActive prometheus.Gauge
	balanceRefreshes   prometheus.Counter
}

// New creates a fresh registry and registers every engine metric on it. A
// fresh registry (rather than prometheus.DefaultRegisterer) keeps repeated
// test construction collision-free, matching exchange-order/internal/metrics.New.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		prometheus.NewGoCollector(),
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_created_total",
			Help: "Total orders that reached the Created state.",
		}, []string{"symbol", "side"}),
		ordersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_rejected_total",
			Help: "Total orders that transitioned to FailedToCreate, by error kind.",
		}, []string{"reason"}),
		ordersFilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_orders_filled_total",
			Help: "Total fills appended across all orders.",
		}),
		ordersCanceled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "engine_orders_canceled_total",
			Help: "Total orders that transitioned to Canceled or FailedToCancel.",
		}, []string{"outcome"}),
		orderAckLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "engine_order_ack_latency_seconds",
			Help:    "Latency from order submission to exchange acknowledgement.",
			Buckets: prometheus.DefBuckets,
		}),
		eventBusLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_event_bus_lagged_subscribers",
			Help: "Number of event-bus subscribers currently flagged as lagged.",
		}),
		reservationsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "engine_reservations_active",
			Help: "Current number of open balance reservations.",
		}),
		balanceRefreshes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "engine_balance_forced_refreshes_total",
			Help: "Total forced balance refreshes triggered by stale-reservation InsufficientFunds (spec.md §7).",
		}),
	}

	registry.MustRegister(
		m.ordersCreated,
		m.ordersRejected,
		m.ordersFilled,
		m.ordersCanceled,
		m.orderAckLatency,
		m.eventBusLag,
		m.reservationsActive,
		m.balanceRefreshes,
	)
	return m
}

// Handler exposes the registry over HTTP for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) IncOrderCreated(symbol, side string)  { m.ordersCreated.WithLabelValues(symbol, side).Inc() }
func (m *Metrics) IncOrderRejected(reason string)       { m.ordersRejected.WithLabelValues(reason).Inc() }
func (m *Metrics) IncOrderFilled()                      { m.ordersFilled.Inc() }
func (m *Metrics) IncOrderCanceled(outcome string)      { m.ordersCanceled.WithLabelValues(outcome).Inc() }
func (m *Metrics) ObserveOrderAckLatency(d time.Duration) { m.orderAckLatency.Observe(d.Seconds()) }
func (m *Metrics) SetEventBusLag(n int)                 { m.eventBusLag.Set(float64(n)) }
func (m *Metrics) SetReservationsActive(n int)          { m.reservationsActive.Set(float64(n)) }
func (m *Metrics) IncBalanceForcedRefresh()             { m.balanceRefreshes.Inc() }
