// Package observability provides structured logging, Prometheus metrics,
// health probes, and OpenTelemetry tracing for the portal services.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("username", name).Warn("login rejected")
//
// Request-scoped logging picks up the request id and the authenticated
// subject stored on the context:
//
//	observability.FromContext(r.Context()).Info("document downloaded")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
//
// # Health Checks
//
//	checker := observability.NewHealthChecker("1.0.0")
//	checker.Register("storage", true, kv.HealthCheck)
//	checker.Register("objects", false, objects.HealthCheck)
//
// A failing critical check marks the service unhealthy; a failing optional
// check only degrades it.
//
// # OpenTelemetry
//
//	providers, err := observability.InitOTel(ctx, cfg, logger)
//	defer observability.ShutdownOTel(ctx, providers, logger)
package observability
