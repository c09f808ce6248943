// Package observability provides logging, metrics, tracing, health checks,
// and graceful shutdown for the delivery engine.
//
// # Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("webhook_id", id).Info("delivery complete")
//
// # Metrics
//
// All engine metrics are registered on a caller-supplied Prometheus
// registry and exposed via Handler on the health port:
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	mux.Handle("/metrics", observability.Handler(registry))
//
// # Tracing
//
// InitOTel wires an OTLP gRPC exporter when enabled; the outbound HTTP
// client uses otelhttp so delivery attempts produce client spans.
package observability
