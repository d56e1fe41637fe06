package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// Metrics groups the exchange collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Calls         *prometheus.CounterVec
	CallSteps     *prometheus.HistogramVec
	OrdersCreated *prometheus.CounterVec
	OrdersFilled  *prometheus.CounterVec
	OrdersCancel  *prometheus.CounterVec
	BooksCreated  prometheus.Counter
	OutboxPending prometheus.Gauge
	OutboxRelayed prometheus.Counter
}

func New(logger zerolog.Logger) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		Calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limitbook_calls_total", Help: "Engine calls by operation and outcome",
		}, []string{"op", "outcome"}),
		CallSteps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "limitbook_call_steps", Help: "Steps metered per engine call",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}, []string{"op"}),
		OrdersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limitbook_orders_created_total", Help: "Orders created by book",
		}, []string{"book"}),
		OrdersFilled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limitbook_fills_total", Help: "Maker fills by book",
		}, []string{"book"}),
		OrdersCancel: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "limitbook_orders_canceled_total", Help: "Orders canceled by book",
		}, []string{"book"}),
		BooksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "limitbook_books_created_total", Help: "Order books created",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "limitbook_outbox_pending", Help: "Events stored but not yet relayed",
		}),
		OutboxRelayed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "limitbook_outbox_relayed_total", Help: "Events relayed to the broker",
		}),
	}
	toRegister := []prometheus.Collector{
		m.Calls, m.CallSteps, m.OrdersCreated, m.OrdersFilled, m.OrdersCancel,
		m.BooksCreated, m.OutboxPending, m.OutboxRelayed,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	}
	for _, c := range toRegister {
		if err := m.registry.Register(c); err != nil {
			logger.Error().Err(err).Msg("metrics register failed")
		}
	}
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCall records the outcome of one outer engine call.
func (m *Metrics) ObserveCall(op string, steps uint64, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "reverted"
	}
	m.Calls.WithLabelValues(op, outcome).Inc()
	m.CallSteps.WithLabelValues(op).Observe(float64(steps))
}

func (m *Metrics) OrderCreated(book string) {
	if m == nil {
		return
	}
	m.OrdersCreated.WithLabelValues(book).Inc()
}

func (m *Metrics) OrderFilled(book string) {
	if m == nil {
		return
	}
	m.OrdersFilled.WithLabelValues(book).Inc()
}

func (m *Metrics) OrderCanceled(book string) {
	if m == nil {
		return
	}
	m.OrdersCancel.WithLabelValues(book).Inc()
}

func (m *Metrics) BookCreated() {
	if m == nil {
		return
	}
	m.BooksCreated.Inc()
}

func (m *Metrics) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}

func (m *Metrics) Relayed(n int) {
	if m == nil {
		return
	}
	m.OutboxRelayed.Add(float64(n))
}
