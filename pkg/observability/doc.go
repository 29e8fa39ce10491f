// Package observability provides structured logging, Prometheus metrics,
// health probes and OpenTelemetry tracing for the search services.
//
// # Structured Logging
//
// Loggers are logrus loggers with a JSON formatter:
//
//	logger := observability.NewLogger(observability.ParseLogLevel("info"), os.Stdout)
//	logger.WithField("entity_type", "posts").Warn("strategy failed")
//
// Request scoped loggers travel through the context:
//
//	ctx = observability.WithLogger(ctx, logger)
//	observability.FromContext(ctx).Info("search completed")
//
// # Prometheus Metrics
//
//	registry := prometheus.NewRegistry()
//	metrics := observability.NewMetrics(registry)
//	router.Use(observability.HTTPMetricsMiddleware(metrics))
//	router.Handle("/metrics", observability.MetricsHandler(registry))
//
// All Metrics methods are safe on a nil receiver so components can be built
// without metrics in tests.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, catalog, version)
//	router.HandleFunc("/healthz", checker.Liveness)
//	router.HandleFunc("/readyz", checker.Readiness)
//
// # Tracing
//
// InitOTel configures OTLP gRPC exporters for traces and metrics. When
// disabled the global no-op providers stay in place.
package observability
