package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.SessionTransition("active")
		m.SendOutcome("delivered")
		m.ReplyOutcome("appended")
		m.ArtifactCompiled("script")
		m.ObserveGateway("create_session", "200", time.Millisecond)
	})
}

func TestCountersRecordLabels(t *testing.T) {
	m := MustNew(prometheus.NewRegistry())

	m.SessionTransition("active")
	m.SessionTransition("active")
	m.SendOutcome("rejected")
	m.ArtifactCompiled("iframe")

	require.Equal(t, 2.0, testutil.ToFloat64(m.sessions.WithLabelValues("active")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.sends.WithLabelValues("rejected")))
	require.Equal(t, 1.0, testutil.ToFloat64(m.artifacts.WithLabelValues("iframe")))
}

func TestMustNewPanicsOnDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	MustNew(reg)
	require.Panics(t, func() { MustNew(reg) })
}
