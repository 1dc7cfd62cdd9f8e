// Package metrics registers the engine's Prometheus collectors. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	sweepDuration *prometheus.HistogramVec
	sweepItems    *prometheus.CounterVec
	sweepFailures *prometheus.CounterVec
	executions    *prometheus.CounterVec
	liquidations  prometheus.Counter
	priceLookups  *prometheus.CounterVec
	notifications *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		sweepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "margin",
			Name:      "sweep_duration_seconds",
			Help:      "Duration of monitor sweeps.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"sweep"}),
		sweepItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "margin",
			Name:      "sweep_items_total",
			Help:      "Items acted on by monitor sweeps.",
		}, []string{"sweep"}),
		sweepFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "margin",
			Name:      "sweep_failures_total",
			Help:      "Per-item failures inside monitor sweeps.",
		}, []string{"sweep"}),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "margin",
			Name:      "order_executions_total",
			Help:      "Executed orders by role and purpose.",
		}, []string{"role", "purpose"}),
		liquidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "margin",
			Name:      "liquidations_total",
			Help:      "Accounts force-liquidated.",
		}),
		priceLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "margin",
			Name:      "price_lookups_total",
			Help:      "Price lookups by outcome (cache, live, fallback, unavailable).",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "margin",
			Name:      "notifications_total",
			Help:      "Notifications by sink and result.",
		}, []string{"sink", "result"}),
	}
	reg.MustRegister(m.sweepDuration, m.sweepItems, m.sweepFailures, m.executions, m.liquidations, m.priceLookups, m.notifications)
	return m
}

func (m *Metrics) ObserveSweep(sweep string, d time.Duration, items, failures int) {
	if m == nil {
		return
	}
	m.sweepDuration.WithLabelValues(sweep).Observe(d.Seconds())
	m.sweepItems.WithLabelValues(sweep).Add(float64(items))
	m.sweepFailures.WithLabelValues(sweep).Add(float64(failures))
}

func (m *Metrics) OrderExecuted(role, purpose string) {
	if m == nil {
		return
	}
	m.executions.WithLabelValues(role, purpose).Inc()
}

func (m *Metrics) Liquidated() {
	if m == nil {
		return
	}
	m.liquidations.Inc()
}

func (m *Metrics) PriceLookup(outcome string) {
	if m == nil {
		return
	}
	m.priceLookups.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Notification(sink, result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(sink, result).Inc()
}
