package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "chatwidget"

// Metrics exposes Prometheus collectors for widget sessions, message
// exchanges, gateway calls and embed artifacts. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	sessions        *prometheus.CounterVec
	sends           *prometheus.CounterVec
	replies         *prometheus.CounterVec
	artifacts       *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
}

// MustNew registers the collectors with reg and panics on duplicate
// registration, mirroring promauto.
func MustNew(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "transitions_total",
			Help:      "Session lifecycle transitions by resulting state.",
		}, []string{"state"}),
		sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "sends_total",
			Help:      "Send attempts by outcome.",
		}, []string{"outcome"}),
		replies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "replies_total",
			Help:      "Scheduled bot replies by outcome.",
		}, []string{"outcome"}),
		artifacts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embed",
			Name:      "artifacts_total",
			Help:      "Embed artifacts compiled by format.",
		}, []string{"format"}),
		gatewayDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "gateway",
			Name:      "request_duration_seconds",
			Help:      "Backend gateway request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "status"}),
	}

	reg.MustRegister(m.sessions, m.sends, m.replies, m.artifacts, m.gatewayDuration)
	return m
}

// SessionTransition counts a session entering state.
func (m *Metrics) SessionTransition(state string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(state).Inc()
}

// SendOutcome counts one send attempt: "delivered", "failed" or "rejected".
func (m *Metrics) SendOutcome(outcome string) {
	if m == nil {
		return
	}
	m.sends.WithLabelValues(outcome).Inc()
}

// ReplyOutcome counts a scheduled reply: "appended" or "canceled".
func (m *Metrics) ReplyOutcome(outcome string) {
	if m == nil {
		return
	}
	m.replies.WithLabelValues(outcome).Inc()
}

// ArtifactCompiled counts a compiled embed artifact.
func (m *Metrics) ArtifactCompiled(format string) {
	if m == nil {
		return
	}
	m.artifacts.WithLabelValues(format).Inc()
}

// ObserveGateway records the latency of a backend call.
func (m *Metrics) ObserveGateway(operation, status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(operation, status).Observe(elapsed.Seconds())
}
