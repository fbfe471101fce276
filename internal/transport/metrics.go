package transport

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the gateway's Prometheus collectors, registered on a
// private registry so tests can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal     *prometheus.CounterVec
	EventsTotal       *prometheus.CounterVec
	ToolDuration      *prometheus.HistogramVec
	ActiveConnections *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpgate",
			Name:      "requests_total",
			Help:      "Requests received, by transport.",
		}, []string{"transport"}),
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mcpgate",
			Name:      "events_total",
			Help:      "Canonical events emitted, by type.",
		}, []string{"type"}),
		ToolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "mcpgate",
			Name:      "tool_duration_seconds",
			Help:      "Tool invocation wall time, by tool.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mcpgate",
			Name:      "active_connections",
			Help:      "Open streaming connections, by transport.",
		}, []string{"transport"}),
	}
	registry.MustRegister(
		m.RequestsTotal,
		m.EventsTotal,
		m.ToolDuration,
		m.ActiveConnections,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the /metrics endpoint for this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
