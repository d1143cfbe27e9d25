package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stayontop/mailtriage/internal/config"
	"github.com/stayontop/mailtriage/internal/google"
	"github.com/stayontop/mailtriage/internal/instrumentation"
	"github.com/stayontop/mailtriage/internal/llm"
	"github.com/stayontop/mailtriage/internal/logging"
	"github.com/stayontop/mailtriage/internal/restore"
	"github.com/stayontop/mailtriage/internal/server"
	"github.com/stayontop/mailtriage/internal/session"
	"github.com/stayontop/mailtriage/internal/store"
	"github.com/stayontop/mailtriage/internal/token"
	"github.com/stayontop/mailtriage/internal/worker"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the mailtriage HTTP API server.

Configuration is read from the environment:

  Required:
    GOOGLE_CLIENT_ID      Google OAuth client ID (used for token refresh)
    GOOGLE_CLIENT_SECRET  Google OAuth client secret
    SESSION_SECRET        Symmetric secret for signing session tokens

  Optional:
    LISTEN_ADDR           API listen address (default :8080)
    TOKEN_STORAGE_FILE    Durable token snapshot (default user_tokens.json)
    DATABASE_PATH         SQLite database path (default mailtriage.db)
    OPENAI_API_KEY        Enables LLM classification; without it emails
                          are stored unclassified
    WORKER_COUNT          Classification workers (default 4)
    AUTH_RATE_LIMIT       add_user calls per minute per IP (default 10)
    METRICS_ADDR          Metrics listener (default :9090)
    METRICS_ENABLED       Start the dedicated metrics server (default true)
    LOG_FORMAT, LOG_LEVEL Logging configuration

On startup the service restores sessions from the token snapshot by
refreshing each stored credential; the /readyz probe only reports ready
once restoration has completed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := logging.Setup(cfg.LogFormat, cfg.LogLevel)
	server.ServiceVersion = version

	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Instrumentation: metrics recorders are no-ops when disabled, so
	// the rest of the wiring does not branch on it.
	instrConfig := instrumentation.DefaultConfig()
	instrConfig.ServiceVersion = version
	provider, err := instrumentation.NewProvider(ctx, instrConfig)
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			logger.Error("instrumentation shutdown failed", logging.Err(err))
		}
	}()

	var metricsServer *server.MetricsServer
	if cfg.MetricsEnabled && provider.Enabled() {
		metricsServer, err = server.NewMetricsServer(cfg.MetricsAddr, provider)
		if err != nil {
			return fmt.Errorf("failed to create metrics server: %w", err)
		}
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server failed", logging.Err(err))
			}
		}()
	}

	// Token lifecycle: live cache plus durable snapshot.
	tokens := token.NewCache()
	tokenFile := token.NewFileStore(cfg.TokenStorageFile)
	tokenFile.SetLogger(logger)

	issuer, err := session.NewIssuer(cfg.SessionSecret)
	if err != nil {
		return err
	}
	issuer.SetLogger(logger)

	auth, err := google.NewAuthService(google.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		HTTPClient:   &http.Client{Timeout: cfg.ProviderTimeout},
		Logger:       logger,
	})
	if err != nil {
		return err
	}
	auth.SetMetrics(provider.Metrics())

	emails, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer func() {
		if err := emails.Close(); err != nil {
			logger.Error("database close failed", logging.Err(err))
		}
	}()

	// The classifier is optional; without an API key the pipeline
	// stores emails unclassified.
	var analyzer worker.Analyzer
	if cfg.OpenAIAPIKey != "" {
		classifier, err := llm.NewClassifier(cfg.OpenAIAPIKey)
		if err != nil {
			return err
		}
		classifier.SetLogger(logger)
		classifier.SetMetrics(provider.Metrics())
		analyzer = classifier
	} else {
		logger.Warn("OPENAI_API_KEY not set, emails will be stored unclassified")
	}

	pool := worker.New(cfg.WorkerCount, analyzer, emails)
	pool.SetLogger(logger)

	clients := server.NewClientCache(ctx, tokens, auth)
	clients.SetMetrics(provider.Metrics())

	srv, err := server.New(server.Config{
		Addr:          cfg.ListenAddr,
		Tokens:        tokens,
		TokenFile:     tokenFile,
		Sessions:      issuer,
		Auth:          auth,
		Emails:        emails,
		Pool:          pool,
		Clients:       clients,
		Metrics:       provider.Metrics(),
		Audit:         instrumentation.NewAuditLoggerWithConfig(logger, instrConfig.AuditLogging),
		Logger:        logger,
		AuthRateLimit: cfg.AuthRateLimit,
	})
	if err != nil {
		return err
	}

	// Restore persisted sessions before accepting traffic. Failures are
	// per-user and already logged; the service starts regardless.
	restorer := restore.New(tokenFile, tokens, auth, issuer)
	restorer.SetLogger(logger)
	summary := restorer.Restore(ctx)
	for i := 0; i < summary.Restored; i++ {
		provider.Metrics().RecordSessionRestored(ctx, instrumentation.ResultRestored)
	}
	for i := 0; i < summary.Failed; i++ {
		provider.Metrics().RecordSessionRestored(ctx, instrumentation.ResultFailed)
	}
	srv.Health().SetReady(true)

	serverDone := make(chan error, 1)
	go func() {
		defer close(serverDone)
		if err := srv.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverDone <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, stopping server")
	case err := <-serverDone:
		if err != nil {
			return fmt.Errorf("server stopped with error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics server shutdown failed", logging.Err(err))
		}
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}
	logger.Info("server gracefully stopped")
	return nil
}
