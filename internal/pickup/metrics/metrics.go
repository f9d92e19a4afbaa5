package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Verifications   *prometheus.CounterVec
	Recorded        *prometheus.CounterVec
	Conflicts       prometheus.Counter
	Replays         prometheus.Counter
	BrokenChains    prometheus.Counter
	OutboxPublished prometheus.Counter
	OutboxFailures  prometheus.Counter
	Latency         *prometheus.HistogramVec
}

func New() *Metrics {
	return &Metrics{
		Verifications: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shepherd_pickup_verifications_total",
			Help: "Pickup verifications by outcome",
		}, []string{"outcome"}),
		Recorded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shepherd_pickup_recorded_total",
			Help: "Pickup log entries appended by decision",
		}, []string{"decision"}),
		Conflicts: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shepherd_pickup_conflicts_total",
			Help: "RecordPickup calls rejected because the attendance record was already closed",
		}),
		Replays: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shepherd_pickup_idempotent_replays_total",
			Help: "RecordPickup calls answered from an existing entry",
		}),
		BrokenChains: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shepherd_pickup_broken_chains_total",
			Help: "Attendance chains that failed hash verification on read",
		}),
		OutboxPublished: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shepherd_pickup_outbox_published_total",
			Help: "Pickup log exports published to Kafka",
		}),
		OutboxFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shepherd_pickup_outbox_failures_total",
			Help: "Outbox relay batches that failed to publish",
		}),
		Latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "shepherd_pickup_operation_duration_seconds",
			Help:    "Pickup service operation latency",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"operation"}),
	}
}

func (m *Metrics) ObserveVerification(outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveRecorded(decision string) {
	if m == nil {
		return
	}
	m.Recorded.WithLabelValues(decision).Inc()
}

func (m *Metrics) IncrementConflicts() {
	if m == nil {
		return
	}
	m.Conflicts.Inc()
}

func (m *Metrics) IncrementReplays() {
	if m == nil {
		return
	}
	m.Replays.Inc()
}

func (m *Metrics) IncrementBrokenChains() {
	if m == nil {
		return
	}
	m.BrokenChains.Inc()
}

func (m *Metrics) AddOutboxPublished(n int) {
	if m == nil {
		return
	}
	m.OutboxPublished.Add(float64(n))
}

func (m *Metrics) IncrementOutboxFailures() {
	if m == nil {
		return
	}
	m.OutboxFailures.Inc()
}

func (m *Metrics) ObserveLatency(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.Latency.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
