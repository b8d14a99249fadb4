package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "limitbook"

// Metrics groups the engine collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	OrdersTotal    *prometheus.CounterVec
	RejectsTotal   *prometheus.CounterVec
	CancelsTotal   prometheus.Counter
	TradesTotal    prometheus.Counter
	TradedQty      prometheus.Counter
	RestingOrders  *prometheus.GaugeVec
	RestingLevels  *prometheus.GaugeVec
	JournalAppend  prometheus.Histogram
	PublishedTotal prometheus.Counter
	PublishErrors  prometheus.Counter
	OutboxPending  prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		OrdersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_total",
			Help:      "Accepted limit orders, partitioned by side.",
		}, []string{"side"}),
		RejectsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejects_total",
			Help:      "Rejected commands, partitioned by command and reason.",
		}, []string{"command", "reason"}),
		CancelsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancels_total",
			Help:      "Successful cancels.",
		}),
		TradesTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Executions appended to the trade log.",
		}),
		TradedQty: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "traded_quantity_total",
			Help:      "Sum of executed quantity.",
		}),
		RestingOrders: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "resting_orders",
			Help:      "Active orders resting in the book.",
		}, []string{"side"}),
		RestingLevels: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "price_levels",
			Help:      "Non-empty price levels.",
		}, []string{"side"}),
		JournalAppend: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "journal_append_seconds",
			Help:      "Duration of a journal append.",
			Buckets:   prometheus.ExponentialBuckets(0.00005, 2, 14),
		}),
		PublishedTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Trade events acknowledged by the broker.",
		}),
		PublishErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Failed trade event publishes.",
		}),
		OutboxPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "outbox_pending",
			Help:      "Trade events seen pending in the last broadcast pass.",
		}),
	}
}

func (m *Metrics) OrderAccepted(side string) {
	if m == nil {
		return
	}
	m.OrdersTotal.WithLabelValues(side).Inc()
}

func (m *Metrics) Rejected(command, reason string) {
	if m == nil {
		return
	}
	m.RejectsTotal.WithLabelValues(command, reason).Inc()
}

func (m *Metrics) Canceled() {
	if m == nil {
		return
	}
	m.CancelsTotal.Inc()
}

func (m *Metrics) Traded(qty int64) {
	if m == nil {
		return
	}
	m.TradesTotal.Inc()
	m.TradedQty.Add(float64(qty))
}

func (m *Metrics) SetBookSize(side string, orders, levels int) {
	if m == nil {
		return
	}
	m.RestingOrders.WithLabelValues(side).Set(float64(orders))
	m.RestingLevels.WithLabelValues(side).Set(float64(levels))
}

func (m *Metrics) ObserveJournal(d time.Duration) {
	if m == nil {
		return
	}
	m.JournalAppend.Observe(d.Seconds())
}

func (m *Metrics) ObservePublish(err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.PublishErrors.Inc()
		return
	}
	m.PublishedTotal.Inc()
}

func (m *Metrics) SetOutboxPending(n int) {
	if m == nil {
		return
	}
	m.OutboxPending.Set(float64(n))
}
