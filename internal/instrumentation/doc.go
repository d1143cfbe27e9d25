// Package instrumentation provides OpenTelemetry instrumentation for
// the mailtriage service.
//
// This package enables production-grade observability through:
//   - OpenTelemetry metrics for HTTP requests, token operations, Gmail
//     API calls and email classification
//   - Distributed tracing for request flows and API calls
//   - Prometheus metrics export via /metrics endpoint on dedicated port
//   - OTLP export support for modern observability platforms
//
// # Metrics
//
// The package exposes the following metric categories:
//
// Server/HTTP Metrics:
//   - http_requests_total: Counter of HTTP requests by method, path, and status
//   - http_request_duration_seconds: Histogram of HTTP request durations
//   - active_sessions: Gauge of live user sessions
//
// Google API Metrics:
//   - google_api_operations_total: Counter of Gmail API operations by operation, status
//   - google_api_operation_duration_seconds: Histogram of Gmail API operation durations
//
// Token Lifecycle Metrics:
//   - auth_attempts_total: Counter of user registration attempts by result
//   - token_refresh_total: Counter of access token refresh attempts by result
//   - sessions_restored_total: Counter of startup restoration outcomes by result
//
// Pipeline Metrics:
//   - emails_processed_total: Counter of pipeline outcomes by result
//   - classification_duration_seconds: Histogram of LLM classification durations
//
// # Configuration
//
// Instrumentation can be configured via environment variables:
//   - INSTRUMENTATION_ENABLED: Enable/disable instrumentation (default: true)
//   - METRICS_EXPORTER: Metrics exporter type (prometheus, otlp, stdout, default: prometheus)
//   - TRACING_EXPORTER: Tracing exporter type (otlp, stdout, none, default: none)
//   - OTEL_EXPORTER_OTLP_ENDPOINT: OTLP endpoint for traces/metrics
//   - OTEL_TRACES_SAMPLER_ARG: Sampling rate (0.0 to 1.0, default: 0.1)
//   - OTEL_SERVICE_NAME: Service name (default: mailtriage)
//
// # Example Usage
//
//	provider, err := instrumentation.NewProvider(ctx, instrumentation.Config{
//		ServiceName:    "mailtriage",
//		ServiceVersion: "0.1.0",
//		Enabled:        true,
//	})
//	if err != nil {
//		return err
//	}
//	defer provider.Shutdown(ctx)
//
//	recorder := provider.Metrics()
//	recorder.RecordHTTPRequest(ctx, "POST", "/api/add_user", 200, time.Since(start))
//	recorder.RecordTokenRefresh(ctx, "success")
package instrumentation
