// Package telemetry exposes Prometheus metrics for credential issuance,
// validation, sessions, notifications, sweeps and HTTP traffic. Metrics live
// on a dedicated registry so tests can build as many instances as they like.
// All recording methods are safe to call on a nil *Metrics.
package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "proposalgate"

// Metrics holds every collector the service records to.
type Metrics struct {
	registry *prometheus.Registry

	issued        *prometheus.CounterVec
	validations   *prometheus.CounterVec
	sessions      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	sweepRemoved  *prometheus.CounterVec
	sweepSkipped  prometheus.Counter
	httpInFlight  prometheus.Gauge
	httpDuration  *prometheus.HistogramVec
	buildInfo     *prometheus.GaugeVec
}

// New creates a Metrics instance with its own registry, including the Go
// runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		issued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credentials_issued_total",
			Help:      "Credentials issued, by codec strategy.",
		}, []string{"strategy"}),
		validations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validations_total",
			Help:      "Credential presentations, by outcome.",
		}, []string{"outcome"}),
		sessions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Session lifecycle events.",
		}, []string{"event"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "Access notifications dispatched, by result.",
		}, []string{"result"}),
		sweepRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_removed_total",
			Help:      "Expired records removed by sweeps.",
		}, []string{"kind"}),
		sweepSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_skipped_total",
			Help:      "Sweep cycles skipped because the previous one was still running.",
		}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_in_flight_requests",
			Help:      "In-flight HTTP requests.",
		}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latencies in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information.",
		}, []string{"version", "commit"}),
	}

	m.registry.MustRegister(
		m.issued, m.validations, m.sessions, m.notifications,
		m.sweepRemoved, m.sweepSkipped, m.httpInFlight, m.httpDuration, m.buildInfo,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// SetBuildInfo records build_info{version,commit} = 1.
func (m *Metrics) SetBuildInfo(version, commit string) {
	if m == nil {
		return
	}
	m.buildInfo.WithLabelValues(version, commit).Set(1)
}

func (m *Metrics) CredentialIssued(strategy string) {
	if m == nil {
		return
	}
	m.issued.WithLabelValues(strategy).Inc()
}

// Validation counts a presentation. outcome is "ok" or a failure reason.
func (m *Metrics) Validation(outcome string) {
	if m == nil {
		return
	}
	m.validations.WithLabelValues(outcome).Inc()
}

// SessionEvent counts promote, touch, extend and end events.
func (m *Metrics) SessionEvent(event string) {
	if m == nil {
		return
	}
	m.sessions.WithLabelValues(event).Inc()
}

func (m *Metrics) Notification(result string) {
	if m == nil {
		return
	}
	m.notifications.WithLabelValues(result).Inc()
}

func (m *Metrics) SweepRemoved(credentials, sessions int64) {
	if m == nil {
		return
	}
	m.sweepRemoved.WithLabelValues("credential").Add(float64(credentials))
	m.sweepRemoved.WithLabelValues("session").Add(float64(sessions))
}

func (m *Metrics) SweepSkipped() {
	if m == nil {
		return
	}
	m.sweepSkipped.Inc()
}

// ObserveHTTP records one finished request.
func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.httpDuration.WithLabelValues(method, route, status).Observe(seconds)
}

// InFlight adjusts the in-flight request gauge by delta.
func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.httpInFlight.Add(delta)
}
