// Package observability provides structured logging, Prometheus metrics,
// OpenTelemetry tracing, health probes and graceful shutdown.
//
// # Structured Logging
//
//	logger := observability.NewLogger(observability.InfoLevel, os.Stdout)
//	logger.WithField("user_id", id).Info("permission toggled")
//
// FromContext returns the request-scoped logger annotated with the request
// and user ids placed on the context by middleware.
//
// # Prometheus Metrics
//
//	metrics := observability.NewMetrics(registry)
//	metrics.RecordMutation("toggle", "add")
//
// A nil *Metrics records nothing, so components accept it unconditionally.
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(db, redisClient, version)
//	observability.RegisterHealthRoutes(router, checker)
//
// # Tracing
//
//	tp, err := observability.InitTracing(ctx, cfg, logger)
//	defer observability.ShutdownTracing(ctx, tp, logger)
package observability
