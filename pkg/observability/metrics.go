package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the delivery engine
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Inbound webhook metrics
	EventsReceivedTotal    *prometheus.CounterVec
	SignatureFailuresTotal *prometheus.CounterVec

	// Outbound delivery metrics
	DeliveriesTotal      *prometheus.CounterVec
	DeliveryDuration     *prometheus.HistogramVec
	DeliveryRetriesTotal *prometheus.CounterVec
	RateLimitedTotal     *prometheus.CounterVec
	CircuitOpenTotal     *prometheus.CounterVec
	CircuitState         *prometheus.GaugeVec

	// Storage metrics
	StorageOperationsTotal   *prometheus.CounterVec
	StorageOperationDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookrelay_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hookrelay_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),

		EventsReceivedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookrelay_events_received_total",
				Help: "Total number of webhook events received",
			},
			[]string{"type", "source", "status"},
		),
		SignatureFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookrelay_signature_failures_total",
				Help: "Total number of inbound signature validation failures",
			},
			[]string{"type"},
		),

		DeliveriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookrelay_deliveries_total",
				Help: "Total number of outbound delivery outcomes",
			},
			[]string{"type", "destination", "status"},
		),
		DeliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hookrelay_delivery_duration_seconds",
				Help:    "End-to-end outbound delivery duration in seconds",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"type", "destination"},
		),
		DeliveryRetriesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookrelay_delivery_retries_total",
				Help: "Total number of failed delivery attempts",
			},
			[]string{"destination"},
		),
		RateLimitedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookrelay_rate_limited_total",
				Help: "Total number of deliveries rejected by the per-destination rate limiter",
			},
			[]string{"destination"},
		),
		CircuitOpenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookrelay_circuit_open_total",
				Help: "Total number of deliveries short-circuited by an open circuit breaker",
			},
			[]string{"destination"},
		),
		CircuitState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "hookrelay_circuit_state",
				Help: "Circuit breaker state per destination (0=closed, 1=half_open, 2=open)",
			},
			[]string{"destination"},
		),

		StorageOperationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hookrelay_storage_operations_total",
				Help: "Total number of storage operations",
			},
			[]string{"operation", "backend", "status"},
		),
		StorageOperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "hookrelay_storage_operation_duration_seconds",
				Help:    "Storage operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation", "backend"},
		),
	}

	registry.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.EventsReceivedTotal,
		m.SignatureFailuresTotal,
		m.DeliveriesTotal,
		m.DeliveryDuration,
		m.DeliveryRetriesTotal,
		m.RateLimitedTotal,
		m.CircuitOpenTotal,
		m.CircuitState,
		m.StorageOperationsTotal,
		m.StorageOperationDuration,
	)

	return m
}

// NewNopMetrics creates metrics backed by a throwaway registry, for tests
// and for components constructed without observability wiring.
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}

// Handler returns an HTTP handler serving the registry in Prometheus format
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// ObserveHTTPRequest records a completed HTTP request
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// ObserveDelivery records an outbound delivery outcome plus its duration
func (m *Metrics) ObserveDelivery(eventType, destination, status string, duration time.Duration) {
	m.DeliveriesTotal.WithLabelValues(eventType, destination, status).Inc()
	m.DeliveryDuration.WithLabelValues(eventType, destination).Observe(duration.Seconds())
}

// ObserveStorageOperation records a storage call
func (m *Metrics) ObserveStorageOperation(operation, backend string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	m.StorageOperationsTotal.WithLabelValues(operation, backend, status).Inc()
	m.StorageOperationDuration.WithLabelValues(operation, backend).Observe(duration.Seconds())
}
