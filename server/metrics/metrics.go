// Package metrics defines the relay's Prometheus collectors on a private
// registry.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome label values shared by the outbound collectors.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Metrics encapsulates Prometheus metrics for the server.
type Metrics struct {
	registry        *prometheus.Registry
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	ActiveRequests  prometheus.Gauge
	ErrorsTotal     *prometheus.CounterVec

	// WebhookEvents counts messaging events by what happened to them:
	// relayed, no_message, no_text, echo, no_sender.
	WebhookEvents *prometheus.CounterVec

	// Verifications counts subscription handshakes by result.
	Verifications *prometheus.CounterVec

	CompletionRequests *prometheus.CounterVec
	CompletionDuration prometheus.Histogram
	DeliveryRequests   *prometheus.CounterVec
	DeliveryDuration   prometheus.Histogram
}

// NewMetrics creates a new Metrics instance with a custom registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	m := &Metrics{
		registry: registry,
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_http_requests_total",
				Help: "Total number of HTTP requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "relay_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"endpoint"},
		),
		ActiveRequests: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "relay_http_active_requests",
				Help: "Number of currently active HTTP requests",
			},
		),
		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_errors_total",
				Help: "Total number of errors by type",
			},
			[]string{"type"},
		),
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_webhook_events_total",
				Help: "Messaging events received by outcome",
			},
			[]string{"outcome"},
		),
		Verifications: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_webhook_verifications_total",
				Help: "Webhook verification attempts by result",
			},
			[]string{"result"},
		),
		CompletionRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_completion_requests_total",
				Help: "Completion calls by outcome",
			},
			[]string{"outcome"},
		),
		CompletionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_completion_duration_seconds",
				Help:    "Duration of completion calls in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60},
			},
		),
		DeliveryRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "relay_delivery_requests_total",
				Help: "Send-message calls by outcome",
			},
			[]string{"outcome"},
		),
		DeliveryDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "relay_delivery_duration_seconds",
				Help:    "Duration of send-message calls in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}

	// Register default Go metrics
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Initialize some default metrics
	m.RequestsTotal.WithLabelValues("/health", "200").Add(0)
	m.RequestsTotal.WithLabelValues("/webhook", "200").Add(0)
	for _, outcome := range []string{OutcomeSuccess, OutcomeFailure} {
		m.CompletionRequests.WithLabelValues(outcome).Add(0)
		m.DeliveryRequests.WithLabelValues(outcome).Add(0)
	}
	for _, result := range []string{"success", "failure"} {
		m.Verifications.WithLabelValues(result).Add(0)
	}

	return m
}

// Handler returns a handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: false,
	})
}

// Registry exposes the underlying registry so other components (the circuit
// breaker) can register their own collectors alongside these.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCompletion records one completion call. errType is empty on success.
func (m *Metrics) ObserveCompletion(seconds float64, errType string) {
	if m == nil {
		return
	}
	m.CompletionDuration.Observe(seconds)
	m.observeOutcome(m.CompletionRequests, errType)
}

// ObserveDelivery records one send-message call. errType is empty on success.
func (m *Metrics) ObserveDelivery(seconds float64, errType string) {
	if m == nil {
		return
	}
	m.DeliveryDuration.Observe(seconds)
	m.observeOutcome(m.DeliveryRequests, errType)
}

// CountEvent increments the webhook event counter for outcome.
func (m *Metrics) CountEvent(outcome string) {
	if m == nil {
		return
	}
	m.WebhookEvents.WithLabelValues(outcome).Inc()
}

// CountVerification increments the verification counter.
func (m *Metrics) CountVerification(ok bool) {
	if m == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.Verifications.WithLabelValues(result).Inc()
}

func (m *Metrics) observeOutcome(vec *prometheus.CounterVec, errType string) {
	if errType == "" {
		vec.WithLabelValues(OutcomeSuccess).Inc()
		return
	}
	vec.WithLabelValues(OutcomeFailure).Inc()
	m.ErrorsTotal.WithLabelValues(errType).Inc()
}
