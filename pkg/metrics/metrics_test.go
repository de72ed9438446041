package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollectorsRecord(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.ConnectionOpened("collaboration")
	m.ConnectionOpened("collaboration")
	m.ConnectionClosed("collaboration")
	m.EditSubmitted(true)
	m.EditSubmitted(false)
	m.EditSubmitted(false)
	m.LockRequested(false)
	m.Evicted("lock", 3)
	m.Evicted("lock", 0)
	m.SweepObserved(0.01, true)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeConnections.WithLabelValues("collaboration")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.editOperations.WithLabelValues("applied")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.editOperations.WithLabelValues("conflict")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.lockRequests.WithLabelValues("denied")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.evictions.WithLabelValues("lock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sweepFailures))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ConnectionOpened("x")
		m.MessageSent("x")
		m.DeliveryFailed("x")
		m.EditSubmitted(true)
		m.LockRequested(true)
		m.NotificationSent("user")
		m.Evicted("connection", 1)
		m.SweepObserved(1, false)
	})
}

func TestRegistersWithRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	New(reg)
	assert.Panics(t, func() { New(reg) }, "duplicate registration must panic")
}
