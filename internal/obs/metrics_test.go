package obs

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetrics_CountersIncrement(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRotation("success", 0.1)
	m.ObserveRotation("failure", 0.2)
	m.FallbackActivated()
	m.ObserveRefresh("success")
	m.SetCircuitOpen(true)
	m.SessionTransition("warning")
	m.ObserveMFAVerification("totp", "success")

	require.Equal(t, float64(1), testutil.ToFloat64(m.rotations.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.rotations.WithLabelValues("failure")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.fallbackActivations))
	require.Equal(t, float64(1), testutil.ToFloat64(m.refreshAttempts.WithLabelValues("success")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.circuitOpen))
	require.Equal(t, float64(1), testutil.ToFloat64(m.sessionTransitions.WithLabelValues("warning")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.mfaVerifications.WithLabelValues("totp", "success")))

	m.SetCircuitOpen(false)
	require.Equal(t, float64(0), testutil.ToFloat64(m.circuitOpen))
}

func TestMetrics_NilReceiverIsSafe(t *testing.T) {
	var m *Metrics

	require.NotPanics(t, func() {
		m.ObserveRotation("success", 0.1)
		m.FallbackActivated()
		m.ObserveRefresh("failure")
		m.SetCircuitOpen(true)
		m.SessionTransition("expired")
		m.ObserveMFAVerification("sms", "failure")
	})
}
