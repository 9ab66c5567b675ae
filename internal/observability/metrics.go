// Package observability exposes Prometheus metrics for the companion gateway.
//
// Counters describe how often the gateway had to fall back: default profiles,
// degraded backends and template replies. A nil *Metrics is valid and records nothing.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "gethome"

const companionSubsystem = "companion"

// Metrics holds the gateway's collectors.
type Metrics struct {
	// SessionsOpened counts opened sessions. Labels: backend (live, degraded)
	SessionsOpened *prometheus.CounterVec

	// SessionsClosed counts removed sessions. Labels: reason (closed, idle)
	SessionsClosed *prometheus.CounterVec

	// ActiveSessions tracks sessions currently held in memory.
	ActiveSessions prometheus.Gauge

	// Replies counts answered turns. Labels: source (model, template), emergency (true, false)
	Replies *prometheus.CounterVec

	// ProfileFallbacks counts sessions opened with the default profile.
	ProfileFallbacks prometheus.Counter

	// AuthFailures counts rejected credentials. Labels: reason (invalid, missing_subject)
	AuthFailures *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers the collectors on a fresh registry, alongside the Go and
// process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return newMetrics(reg, reg)
}

func newMetrics(reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsOpened: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: companionSubsystem,
				Name:      "sessions_opened_total",
				Help:      "Sessions opened, by conversation backend",
			},
			[]string{"backend"},
		),
		SessionsClosed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: companionSubsystem,
				Name:      "sessions_closed_total",
				Help:      "Sessions removed, by reason",
			},
			[]string{"reason"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: companionSubsystem,
				Name:      "active_sessions",
				Help:      "Sessions currently held in memory",
			},
		),
		Replies: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: companionSubsystem,
				Name:      "replies_total",
				Help:      "Replies returned, by source and emergency flag",
			},
			[]string{"source", "emergency"},
		),
		ProfileFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: companionSubsystem,
				Name:      "profile_fallbacks_total",
				Help:      "Sessions opened with the default profile because the profile service failed",
			},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: companionSubsystem,
				Name:      "auth_failures_total",
				Help:      "Rejected credentials, by reason",
			},
			[]string{"reason"},
		),
		gatherer: gatherer,
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// SessionOpened records a new session on the given backend.
func (m *Metrics) SessionOpened(backend string) {
	if m == nil {
		return
	}
	m.SessionsOpened.WithLabelValues(backend).Inc()
	m.ActiveSessions.Inc()
}

// SessionClosed records n sessions removed for reason.
func (m *Metrics) SessionClosed(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsClosed.WithLabelValues(reason).Add(float64(n))
	m.ActiveSessions.Sub(float64(n))
}

// ReplySent records one answered turn.
func (m *Metrics) ReplySent(fromTemplate, emergency bool) {
	if m == nil {
		return
	}
	source := "model"
	if fromTemplate {
		source = "template"
	}
	m.Replies.WithLabelValues(source, boolLabel(emergency)).Inc()
}

// ProfileFallback records a session opened with the default profile.
func (m *Metrics) ProfileFallback() {
	if m == nil {
		return
	}
	m.ProfileFallbacks.Inc()
}

// AuthFailure records a rejected credential.
func (m *Metrics) AuthFailure(reason string) {
	if m == nil {
		return
	}
	m.AuthFailures.WithLabelValues(reason).Inc()
}

func boolLabel(v bool) string {
	if v {
		return "true"
	}
	return "false"
}
