// Package metrics holds the Prometheus collectors for the coordination core.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "agentline"

type Metrics struct {
	Registry *prometheus.Registry

	authorizations    *prometheus.CounterVec
	toolDuration      *prometheus.HistogramVec
	eventsAppended    *prometheus.CounterVec
	appendFailures    prometheus.Counter
	sessionsShortened prometheus.Counter
	authFailures      *prometheus.CounterVec
	kicks             *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		authorizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authorization_decisions_total",
			Help:      "Tool authorization decisions by tool, caller kind and outcome.",
		}, []string{"tool", "caller", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Duration of authorized tool calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool", "outcome"}),
		eventsAppended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_appended_total",
			Help:      "State change events appended to the log.",
		}, []string{"entity_type", "event_type"}),
		appendFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "event_append_failures_total",
			Help:      "Event appends that failed and aborted their use case.",
		}),
		sessionsShortened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_shortened_total",
			Help:      "Sessions whose expiry was cut to the pause grace period.",
		}),
		authFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "authentication_failures_total",
			Help:      "Rejected bearer credentials by reason.",
		}, []string{"reason"}),
		kicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kicks_total",
			Help:      "Agent kicks by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.authorizations, m.toolDuration, m.eventsAppended, m.appendFailures,
		m.sessionsShortened, m.authFailures, m.kicks,
	)
	return m
}

// Handler exposes the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}

// ObserveAuthorization counts one decision; a nil err is an allow.
func (m *Metrics) ObserveAuthorization(tool, caller string, err error) {
	if m == nil {
		return
	}
	outcome := "allowed"
	if err != nil {
		outcome = "denied"
	}
	m.authorizations.WithLabelValues(tool, caller, outcome).Inc()
}

func (m *Metrics) ObserveToolCall(tool string, started time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.toolDuration.WithLabelValues(tool, outcome).Observe(time.Since(started).Seconds())
}

func (m *Metrics) EventAppended(entityType, eventType string) {
	if m == nil {
		return
	}
	m.eventsAppended.WithLabelValues(entityType, eventType).Inc()
}

func (m *Metrics) EventAppendFailed() {
	if m == nil {
		return
	}
	m.appendFailures.Inc()
}

func (m *Metrics) SessionsShortened(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.sessionsShortened.Add(float64(n))
}

func (m *Metrics) AuthenticationFailed(reason string) {
	if m == nil {
		return
	}
	m.authFailures.WithLabelValues(reason).Inc()
}

// ObserveKick labels the outcome with the kick error kind when err carries one.
func (m *Metrics) ObserveKick(err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
		var kinded interface{ KindLabel() string }
		if errors.As(err, &kinded) {
			outcome = kinded.KindLabel()
		}
	}
	m.kicks.WithLabelValues(outcome).Inc()
}
