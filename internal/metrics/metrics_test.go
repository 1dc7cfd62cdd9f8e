package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveSweep("orders", 20*time.Millisecond, 3, 1)
	m.Liquidated()
	m.PriceLookup("fallback")
	m.PriceLookup("fallback")

	assert.Equal(t, 3.0, testutil.ToFloat64(m.sweepItems.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepFailures.WithLabelValues("orders")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.liquidations))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.priceLookups.WithLabelValues("fallback")))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveSweep("orders", time.Second, 1, 0)
		m.OrderExecuted("immediate", "open")
		m.Liquidated()
		m.PriceLookup("live")
		m.Notification("bus", "ok")
	})
}
