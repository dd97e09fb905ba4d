package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Request outcomes recorded by the chat handler.
const (
	OutcomePreflight        = "preflight"
	OutcomeMethodNotAllowed = "method_not_allowed"
	OutcomeInvalid          = "invalid"
	OutcomeUpstreamError    = "upstream_error"
	OutcomeInternalError    = "internal_error"
	OutcomeSuccess          = "success"
)

// Metrics tracks chat requests on a private registry so several gateways
// (or tests) can live in one process.
//
// Metrics:
//   - chat_gateway_requests_total: requests by outcome
//   - chat_gateway_upstream_duration_seconds: upstream call latency by status class
type Metrics struct {
	registry         *prometheus.Registry
	requestsTotal    *prometheus.CounterVec
	upstreamDuration *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "chat_gateway",
				Name:      "requests_total",
				Help:      "Chat requests handled, by outcome",
			},
			[]string{"outcome"},
		),
		upstreamDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "chat_gateway",
				Name:      "upstream_duration_seconds",
				Help:      "Latency of upstream chat completion calls",
				// LLM completions: 250ms - 60s
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"status_class"},
		),
	}
	m.registry.MustRegister(m.requestsTotal, m.upstreamDuration)
	return m
}

// RecordOutcome is nil-safe so handlers can run without metrics.
func (m *Metrics) RecordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveUpstream records a finished upstream call; statusCode 0 means the
// call failed before a response arrived.
func (m *Metrics) ObserveUpstream(statusCode int, d time.Duration) {
	if m == nil {
		return
	}
	m.upstreamDuration.WithLabelValues(statusClass(statusCode)).Observe(d.Seconds())
}

func (m *Metrics) Requests(outcome string) prometheus.Counter {
	return m.requestsTotal.WithLabelValues(outcome)
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func statusClass(statusCode int) string {
	if statusCode <= 0 {
		return "error"
	}
	return strconv.Itoa(statusCode/100) + "xx"
}
