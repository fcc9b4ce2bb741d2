// Package metrics exposes the bridge's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector the bridge updates.
type Metrics struct {
	registry *prometheus.Registry

	SessionsActive    prometheus.Gauge
	IngressMessages   prometheus.Counter
	IngressParseError prometheus.Counter
	BusPublished      prometheus.Counter
	BusDropped        prometheus.Counter
	RunsStarted       prometheus.Counter
	RunsFinished      prometheus.Counter
	RunsErrored       prometheus.Counter
	AutoApprovals     *prometheus.CounterVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridged_sessions_active",
			Help: "Number of sessions currently registered.",
		}),
		IngressMessages: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridged_ingress_messages_total",
			Help: "Agent messages parsed from ingress connections.",
		}),
		IngressParseError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridged_ingress_parse_errors_total",
			Help: "Malformed NDJSON lines skipped on ingress.",
		}),
		BusPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridged_bus_published_total",
			Help: "Events published to the broadcast bus.",
		}),
		BusDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridged_bus_dropped_total",
			Help: "Events dropped for slow bus subscribers.",
		}),
		RunsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridged_runs_started_total",
			Help: "Client run requests accepted.",
		}),
		RunsFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridged_runs_finished_total",
			Help: "Runs completed normally.",
		}),
		RunsErrored: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridged_runs_errored_total",
			Help: "Runs terminated with a run-level error.",
		}),
		AutoApprovals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridged_auto_approvals_total",
			Help: "Tool approvals resolved automatically, by decision.",
		}, []string{"decision"}),
	}

	reg.MustRegister(
		m.SessionsActive,
		m.IngressMessages,
		m.IngressParseError,
		m.BusPublished,
		m.BusDropped,
		m.RunsStarted,
		m.RunsFinished,
		m.RunsErrored,
		m.AutoApprovals,
	)
	return m
}

// Handler serves the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
