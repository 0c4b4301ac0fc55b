package core

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stride/internal/types"
)

// MetricsCollector records API telemetry. The chassis depends on this
// interface so tests can pass a nil or fake collector.
type MetricsCollector interface {
	RecordRequest(method, route, status string, duration time.Duration)
}

// Metrics is the Prometheus-backed collector. It owns its registry so
// multiple instances in tests never collide on registration.
type Metrics struct {
	registry *prometheus.Registry

	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	webhookEvents *prometheus.CounterVec
}

// NewMetrics creates a Metrics collector with Go runtime and process
// collectors pre-registered.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stride_http_requests_total",
			Help: "HTTP requests by method, route, and status.",
		}, []string{"method", "route", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stride_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		webhookEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stride_webhook_events_total",
			Help: "Billing webhook deliveries by handling outcome.",
		}, []string{"status"}),
	}

	registry.MustRegister(m.requests, m.duration, m.webhookEvents)
	return m
}

// RecordRequest implements MetricsCollector.
func (m *Metrics) RecordRequest(method, route, status string, duration time.Duration) {
	m.requests.WithLabelValues(method, route, status).Inc()
	m.duration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordWebhook counts one webhook delivery outcome.
func (m *Metrics) RecordWebhook(status types.WebhookHandleStatus) {
	m.webhookEvents.WithLabelValues(string(status)).Inc()
}

// Handler returns the scrape endpoint handler for this registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
