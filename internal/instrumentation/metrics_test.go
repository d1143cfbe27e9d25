package instrumentation

import (
	"context"
	"testing"
	"time"
)

func newTestProvider(t *testing.T) (*Provider, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	provider, err := NewProvider(ctx, Config{
		ServiceName:     "test-service",
		ServiceVersion:  "1.0.0",
		Enabled:         true,
		MetricsExporter: "prometheus",
		TracingExporter: "none",
	})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	t.Cleanup(func() { _ = provider.Shutdown(ctx) })
	return provider, ctx
}

func TestMetrics_RecordHTTPRequest(t *testing.T) {
	provider, ctx := newTestProvider(t)

	metrics := provider.Metrics()
	if metrics == nil {
		t.Fatal("expected metrics to be non-nil")
	}

	// Should not panic
	metrics.RecordHTTPRequest(ctx, "POST", "/api/add_user", 200, 100*time.Millisecond)
	metrics.RecordHTTPRequest(ctx, "GET", "/api/emails", 500, 50*time.Millisecond)
}

func TestMetrics_RecordGoogleAPIOperation(t *testing.T) {
	provider, ctx := newTestProvider(t)
	metrics := provider.Metrics()

	// Should not panic
	metrics.RecordGoogleAPIOperation(ctx, OperationList, StatusSuccess, 200*time.Millisecond)
	metrics.RecordGoogleAPIOperation(ctx, OperationGet, StatusError, 500*time.Millisecond)
	metrics.RecordGoogleAPIOperation(ctx, OperationProfile, StatusSuccess, 100*time.Millisecond)
}

func TestMetrics_RecordTokenLifecycle(t *testing.T) {
	provider, ctx := newTestProvider(t)
	metrics := provider.Metrics()

	// Should not panic
	metrics.RecordAuthAttempt(ctx, ResultSuccess)
	metrics.RecordAuthAttempt(ctx, ResultFailure)
	metrics.RecordTokenRefresh(ctx, ResultSuccess)
	metrics.RecordTokenRefresh(ctx, ResultExpired)
	metrics.RecordSessionRestored(ctx, ResultRestored)
	metrics.RecordSessionRestored(ctx, ResultFailed)
}

func TestMetrics_RecordPipeline(t *testing.T) {
	provider, ctx := newTestProvider(t)
	metrics := provider.Metrics()

	// Should not panic
	metrics.RecordEmailProcessed(ctx, ResultProcessed, "jane@example.com")
	metrics.RecordEmailProcessed(ctx, ResultSkipped, "")
	metrics.RecordClassification(ctx, StatusSuccess, 2*time.Second)
}

func TestMetrics_ActiveSessions(t *testing.T) {
	provider, ctx := newTestProvider(t)
	metrics := provider.Metrics()

	// Should not panic
	metrics.IncrementActiveSessions(ctx)
	metrics.IncrementActiveSessions(ctx)
	metrics.DecrementActiveSessions(ctx)
}

func TestMetrics_UninitializedIsNoop(t *testing.T) {
	ctx := context.Background()
	metrics := &Metrics{}

	// None of these should panic on an uninitialized recorder
	metrics.RecordHTTPRequest(ctx, "GET", "/api/health", 200, time.Millisecond)
	metrics.RecordGoogleAPIOperation(ctx, OperationList, StatusSuccess, time.Millisecond)
	metrics.RecordAuthAttempt(ctx, ResultSuccess)
	metrics.RecordTokenRefresh(ctx, ResultSuccess)
	metrics.RecordSessionRestored(ctx, ResultRestored)
	metrics.RecordEmailProcessed(ctx, ResultProcessed, "")
	metrics.RecordClassification(ctx, StatusSuccess, time.Millisecond)
	metrics.IncrementActiveSessions(ctx)
	metrics.DecrementActiveSessions(ctx)
}
