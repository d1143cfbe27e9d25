package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stayontop/mailtriage/internal/instrumentation"
)

const (
	// DefaultMetricsAddr is where the metrics listener binds when no
	// address is configured.
	DefaultMetricsAddr = ":9090"

	metricsReadTimeout  = 10 * time.Second
	metricsWriteTimeout = 10 * time.Second
	metricsIdleTimeout  = 60 * time.Second
)

// MetricsServer serves Prometheus metrics on its own listener, kept off
// the API port so scrape traffic never competes with user requests and
// operational metrics are not reachable through the public surface.
type MetricsServer struct {
	addr string
	http *http.Server
}

// NewMetricsServer creates the metrics listener. It requires an enabled
// instrumentation provider: the OpenTelemetry prometheus exporter
// registers with the default registry, which /metrics serves here.
func NewMetricsServer(addr string, provider *instrumentation.Provider) (*MetricsServer, error) {
	if provider == nil {
		return nil, fmt.Errorf("instrumentation provider is required for metrics server")
	}
	if !provider.Enabled() {
		return nil, fmt.Errorf("instrumentation provider is not enabled")
	}
	if addr == "" {
		addr = DefaultMetricsAddr
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	return &MetricsServer{
		addr: addr,
		http: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: metricsReadTimeout,
			WriteTimeout:      metricsWriteTimeout,
			IdleTimeout:       metricsIdleTimeout,
		},
	}, nil
}

// Start blocks serving metrics until the listener fails or the server
// is shut down.
func (s *MetricsServer) Start() error {
	slog.Info("starting metrics server", "addr", s.addr)
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the metrics listener.
func (s *MetricsServer) Shutdown(ctx context.Context) error {
	slog.Info("shutting down metrics server")
	return s.http.Shutdown(ctx)
}

// Addr returns the address the server binds to.
func (s *MetricsServer) Addr() string {
	return s.addr
}
