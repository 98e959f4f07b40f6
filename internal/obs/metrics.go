// Package obs provides Prometheus instrumentation for the lifecycle
// managers. Managers accept an optional *Metrics; a nil receiver disables
// instrumentation, so tests and embedders that do not scrape can skip it.
package obs

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	rotations           *prometheus.CounterVec
	rotationDuration    prometheus.Histogram
	fallbackActivations prometheus.Counter
	refreshAttempts     *prometheus.CounterVec
	circuitOpen         prometheus.Gauge
	sessionTransitions  *prometheus.CounterVec
	mfaVerifications    *prometheus.CounterVec
}

// New creates the sessionguard collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionguard_rotations_total",
			Help: "Total credential rotations by result.",
		}, []string{"result"}),
		rotationDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sessionguard_rotation_duration_seconds",
			Help:    "Credential rotation latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		fallbackActivations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sessionguard_fallback_activations_total",
			Help: "Times a degraded-mode fallback credential was issued.",
		}),
		refreshAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionguard_refresh_attempts_total",
			Help: "Total refresh attempts by result.",
		}, []string{"result"}),
		circuitOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sessionguard_refresh_circuit_open",
			Help: "1 when the refresh circuit breaker is open.",
		}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionguard_session_transitions_total",
			Help: "Session timeout state transitions by target state.",
		}, []string{"state"}),
		mfaVerifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sessionguard_mfa_verifications_total",
			Help: "MFA verification attempts by method and result.",
		}, []string{"method", "result"}),
	}

	reg.MustRegister(
		m.rotations,
		m.rotationDuration,
		m.fallbackActivations,
		m.refreshAttempts,
		m.circuitOpen,
		m.sessionTransitions,
		m.mfaVerifications,
	)
	return m
}

// Handler exposes the default registry for scraping.
func Handler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) ObserveRotation(result string, seconds float64) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(result).Inc()
	m.rotationDuration.Observe(seconds)
}

func (m *Metrics) FallbackActivated() {
	if m == nil {
		return
	}
	m.fallbackActivations.Inc()
}

func (m *Metrics) ObserveRefresh(result string) {
	if m == nil {
		return
	}
	m.refreshAttempts.WithLabelValues(result).Inc()
}

func (m *Metrics) SetCircuitOpen(open bool) {
	if m == nil {
		return
	}
	if open {
		m.circuitOpen.Set(1)
	} else {
		m.circuitOpen.Set(0)
	}
}

func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(state).Inc()
}

func (m *Metrics) ObserveMFAVerification(method, result string) {
	if m == nil {
		return
	}
	m.mfaVerifications.WithLabelValues(method, result).Inc()
}
