package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Decisions   *prometheus.CounterVec
	StoreErrors prometheus.Counter
	Throttled   *prometheus.CounterVec
	Resets      prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		Decisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shepherd_ratelimit_verification_decisions_total",
			Help: "Verification attempt limiter decisions by outcome",
		}, []string{"outcome"}),
		StoreErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shepherd_ratelimit_store_errors_total",
			Help: "Counter store failures; each one blocks the attempt",
		}),
		Throttled: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "shepherd_ratelimit_verify_throttled_total",
			Help: "Verify requests rejected by the request throttle, by scope",
		}, []string{"scope"}),
		Resets: promauto.NewCounter(prometheus.CounterOpts{
			Name: "shepherd_ratelimit_attempt_resets_total",
			Help: "Attempt counters cleared by a supervisor",
		}),
	}
}

func (m *Metrics) ObserveThrottled(scope string) {
	if m == nil {
		return
	}
	m.Throttled.WithLabelValues(scope).Inc()
}

func (m *Metrics) IncrementResets() {
	if m == nil {
		return
	}
	m.Resets.Inc()
}

func (m *Metrics) ObserveDecision(outcome string) {
	if m == nil {
		return
	}
	m.Decisions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncrementStoreErrors() {
	if m == nil {
		return
	}
	m.StoreErrors.Inc()
}
