package telemetry

// metrics.go: métricas Prometheus del simulador paper.
//
//   - paper_order_events_total{action}      eventos del stream por acción
//   - paper_skips_total{reason}             colocaciones rechazadas por cap
//   - paper_filled_shares_total{outcome}    shares llenadas
//   - paper_ack_latency_ms                  latencia submit→ACK simulada
//   - paper_cash_usdc / paper_reserved_usdc saldo y cash comprometido
//   - paper_open_orders                     órdenes vivas en el broker
//   - paper_feed_updates_total{kind}        eventos del feed aplicados
//
// Cada Metrics tiene su propio registry, así varios tests pueden crear el suyo.

import (
	"context"
	"net/http"
	"strings"

	"github.com/alejandrodnm/polypaper/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics implementa ports.EventSink sobre contadores Prometheus.
type Metrics struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	skips       *prometheus.CounterVec
	filled      *prometheus.CounterVec
	ackLatency  prometheus.Histogram
	cash        prometheus.Gauge
	reserved    prometheus.Gauge
	openOrders  prometheus.Gauge
	feedUpdates *prometheus.CounterVec
}

// NewMetrics crea y registra las métricas en un registry nuevo.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paper_order_events_total",
				Help: "Order events emitted, by action",
			},
			[]string{"action"},
		),
		skips: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paper_skips_total",
				Help: "Placements rejected before submit, by reason",
			},
			[]string{"reason"},
		),
		filled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paper_filled_shares_total",
				Help: "Simulated filled shares, by outcome",
			},
			[]string{"outcome"},
		),
		ackLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "paper_ack_latency_ms",
				Help:    "Simulated submit to ACK latency in milliseconds",
				Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000},
			},
		),
		cash: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paper_cash_usdc",
			Help: "Paper cash balance in USDC",
		}),
		reserved: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paper_reserved_usdc",
			Help: "Cash committed to open paper orders",
		}),
		openOrders: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "paper_open_orders",
			Help: "Orders still tracked by the broker",
		}),
		feedUpdates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "paper_feed_updates_total",
				Help: "Market data events applied to the book store, by kind",
			},
			[]string{"kind"},
		),
	}
	m.registry.MustRegister(
		m.events, m.skips, m.filled, m.ackLatency,
		m.cash, m.reserved, m.openOrders, m.feedUpdates,
	)
	return m
}

// Emit implementa ports.EventSink.
func (m *Metrics) Emit(_ context.Context, ev domain.OrderTelemetry) error {
	m.events.WithLabelValues(string(ev.Kind)).Inc()
	switch ev.Kind {
	case domain.TelemetrySkip:
		m.skips.WithLabelValues(skipReason(ev.Reason)).Inc()
	case domain.TelemetryFill, domain.TelemetryPartialFill:
		if ev.FillQty > 0 {
			m.filled.WithLabelValues(string(ev.Outcome)).Add(ev.FillQty)
		}
	case domain.TelemetryAck:
		m.ackLatency.Observe(float64(ev.AckMs))
	}
	return nil
}

// ObserveFeed cuenta un evento del feed aplicado al store.
func (m *Metrics) ObserveFeed(ev domain.FeedEvent) {
	kind := "unknown"
	switch ev.(type) {
	case domain.FullBookEvent:
		kind = "book"
	case domain.PriceChangeEvent:
		kind = "price_change"
	case domain.LastTradeEvent:
		kind = "last_trade"
	}
	m.feedUpdates.WithLabelValues(kind).Inc()
}

// SetLedger actualiza los gauges de saldo y órdenes vivas.
func (m *Metrics) SetLedger(cash, reserved float64, openOrders int) {
	m.cash.Set(cash)
	m.reserved.Set(reserved)
	m.openOrders.Set(float64(openOrders))
}

// Handler sirve /metrics en formato de exposición de Prometheus.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// skipReason extrae el tipo de "SKIP:worst_total 70.00+10.00>75.00".
func skipReason(reason string) string {
	r := strings.TrimPrefix(reason, "SKIP:")
	if i := strings.IndexByte(r, ' '); i >= 0 {
		r = r[:i]
	}
	if r == "" {
		return "unknown"
	}
	return r
}
