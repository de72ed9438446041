package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "slidegenie_realtime"

// Metrics holds the Prometheus collectors for the realtime core. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	activeConnections *prometheus.GaugeVec
	messagesSent      *prometheus.CounterVec
	deliveryErrors    *prometheus.CounterVec
	editOperations    *prometheus.CounterVec
	lockRequests      *prometheus.CounterVec
	notifications     *prometheus.CounterVec
	evictions         *prometheus.CounterVec
	sweepDuration     prometheus.Histogram
	sweepFailures     prometheus.Counter
}

// New creates the collectors and registers them with reg. Passing
// prometheus.DefaultRegisterer exposes them on the default /metrics handler.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		activeConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Live connections per manager.",
		}, []string{"manager"}),
		messagesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_sent_total",
			Help:      "Frames accepted for delivery per manager.",
		}, []string{"manager"}),
		deliveryErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "delivery_errors_total",
			Help:      "Failed deliveries that evicted a connection.",
		}, []string{"manager"}),
		editOperations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "edit_operations_total",
			Help:      "Submitted edit operations by arbitration outcome.",
		}, []string{"outcome"}),
		lockRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "slide_lock_requests_total",
			Help:      "Slide lock acquisitions by result.",
		}, []string{"result"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Notifications sent by target kind.",
		}, []string{"target"}),
		evictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evictions_total",
			Help:      "Entries removed by the lifecycle sweep.",
		}, []string{"kind"}),
		sweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "sweep_duration_seconds",
			Help:      "Duration of one lifecycle sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Sweep iterations that recovered from a panic.",
		}),
	}

	if reg != nil {
		reg.MustRegister(
			m.activeConnections,
			m.messagesSent,
			m.deliveryErrors,
			m.editOperations,
			m.lockRequests,
			m.notifications,
			m.evictions,
			m.sweepDuration,
			m.sweepFailures,
		)
	}
	return m
}

func (m *Metrics) ConnectionOpened(manager string) {
	if m == nil {
		return
	}
	m.activeConnections.WithLabelValues(manager).Inc()
}

func (m *Metrics) ConnectionClosed(manager string) {
	if m == nil {
		return
	}
	m.activeConnections.WithLabelValues(manager).Dec()
}

func (m *Metrics) MessageSent(manager string) {
	if m == nil {
		return
	}
	m.messagesSent.WithLabelValues(manager).Inc()
}

func (m *Metrics) DeliveryFailed(manager string) {
	if m == nil {
		return
	}
	m.deliveryErrors.WithLabelValues(manager).Inc()
}

// EditSubmitted records an arbitration outcome ("applied" or "conflict").
func (m *Metrics) EditSubmitted(applied bool) {
	if m == nil {
		return
	}
	outcome := "applied"
	if !applied {
		outcome = "conflict"
	}
	m.editOperations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) LockRequested(granted bool) {
	if m == nil {
		return
	}
	result := "granted"
	if !granted {
		result = "denied"
	}
	m.lockRequests.WithLabelValues(result).Inc()
}

func (m *Metrics) NotificationSent(target string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(target).Inc()
}

// Evicted adds n removals of the given kind (connection, lock, presence, edit).
func (m *Metrics) Evicted(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.evictions.WithLabelValues(kind).Add(float64(n))
}

func (m *Metrics) SweepObserved(seconds float64, failed bool) {
	if m == nil {
		return
	}
	m.sweepDuration.Observe(seconds)
	if failed {
		m.sweepFailures.Inc()
	}
}
