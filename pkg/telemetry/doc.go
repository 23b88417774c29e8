// Package telemetry provides observability primitives for the session
// transport library.
//
// # Overview
//
// The telemetry package offers:
//   - Metrics collection (counters, gauges, histograms)
//   - Prometheus-compatible metrics export
//   - Distributed tracing (OpenTelemetry-compatible interface)
//   - Structured logging with levels
//   - Health check endpoints
//
// # Quick Start
//
//	import "github.com/corvidnet/reliant/pkg/telemetry"
//
//	telemetry.Global().SessionStarted()
//	telemetry.Global().RecordHandshakeLatency(150 * time.Millisecond)
//	telemetry.Global().RecordBytesSent(1024)
//
//	go telemetry.ServePrometheus(":9090", telemetry.Global(), "reliant")
//
// # Metrics Collection
//
// The Collector type aggregates metrics across sessions:
//
//	collector := telemetry.NewCollector(telemetry.Labels{
//		"instance": "node-1",
//		"region":   "us-west-2",
//	})
//
//	collector.SessionStarted()
//	collector.SessionEnded()
//	collector.RecordHandshakeLatency(d)
//	collector.RecordBytesSent(n)
//	collector.RecordBytesReceived(n)
//	collector.RecordRetransmit()
//	collector.RecordReconnectStart()
//
//	snap := collector.Snapshot()
//
// # Prometheus Export
//
//	exporter := telemetry.NewPrometheusExporter(collector, "reliant")
//	http.Handle("/metrics", exporter.Handler())
//
// # Tracing
//
//	tracer := telemetry.NewSimpleTracer()
//	telemetry.SetTracer(tracer)
//
//	otelTracer := telemetry.NewOTelTracer("reliant")
//	telemetry.SetTracer(otelTracer)
//	// Build with -tags otel to enable the adapter.
//
//	ctx, end := telemetry.StartSpan(ctx, telemetry.SpanHandshakeClient)
//	defer end(nil) // or end(err) on failure
//
// # Structured Logging
//
//	logger := telemetry.NewLogger(
//		telemetry.WithLevel(telemetry.LevelInfo),
//		telemetry.WithFormat(telemetry.FormatJSON),
//		telemetry.WithFields(telemetry.Fields{"service": "reliant"}),
//	)
//
//	logger.Info("session established", telemetry.Fields{
//		"session_id": sessionID,
//		"cipher":     "AES-256-GCM",
//	})
//
//	sessionLog := logger.Named("session").With(telemetry.Fields{"id": sessionID})
//	sessionLog.Debug("sealing packet")
//
// # Health Checks
//
//	health := telemetry.NewHealthCheck(collector, "1.0.0")
//	health.AddCheck("crypto", func() error { return nil })
//
//	http.Handle("/health", health.Handler())
//	http.Handle("/healthz", health.LivenessHandler())
//	http.Handle("/readyz", health.ReadinessHandler())
//
// # Observability Server
//
//	server := telemetry.NewServer(telemetry.ServerConfig{
//		Collector:        collector,
//		Version:          "1.0.0",
//		Namespace:        "reliant",
//		EnablePrometheus: true,
//		EnableHealth:     true,
//	})
//
//	go server.ListenAndServe(":9090")
package telemetry
