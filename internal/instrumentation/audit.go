package instrumentation

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent captures all information about a user-facing operation for
// audit logging: user registration, token refresh, mailbox fetches and
// session restoration.
//
// # Privacy Considerations
//
// The UserEmail field contains PII. When logging, consider:
//   - Using UserDomain() to get only the domain for metrics/general logs
//   - Only logging full email in audit-specific log streams
//   - Ensuring audit logs have appropriate access controls
type AuditEvent struct {
	// Operation name (add_user, remove_user, fetch_emails, token_refresh, restore)
	Operation string

	// User identity the operation acted on
	UserEmail string

	// Upstream service touched, if any (gmail, openai)
	ServiceName string

	// Execution details
	StartTime time.Time
	Duration  time.Duration
	Success   bool
	Error     string

	// Tracing context
	TraceID string
	SpanID  string
}

// UserDomain returns the domain portion of the user's email for lower-cardinality logging.
func (e *AuditEvent) UserDomain() string {
	return ExtractUserDomain(e.UserEmail)
}

// Status returns "success" or "error" based on the Success field.
func (e *AuditEvent) Status() string {
	if e.Success {
		return StatusSuccess
	}
	return StatusError
}

// LogAttrs returns slog attributes for structured logging.
//
// # Cardinality
//
// This function uses cardinality-controlled values (user_domain)
// for metrics-compatible logging. For full audit logging, use LogAuditAttrs.
func (e *AuditEvent) LogAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("operation", e.Operation),
		slog.String("user_domain", e.UserDomain()),
		slog.Duration("duration", e.Duration),
		slog.Bool("success", e.Success),
	}

	if e.ServiceName != "" {
		attrs = append(attrs, slog.String("service", e.ServiceName))
	}
	if e.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.TraceID))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}

	return attrs
}

// LogAuditAttrs returns slog attributes for full audit logging.
//
// # Security Warning
//
// This method includes PII (full email). Ensure audit logs are:
//   - Stored securely with appropriate access controls
//   - Not exposed to general monitoring dashboards
//   - Retained according to compliance requirements
func (e *AuditEvent) LogAuditAttrs() []slog.Attr {
	attrs := []slog.Attr{
		slog.String("operation", e.Operation),
		slog.String("user", e.UserEmail),
		slog.Duration("duration", e.Duration),
		slog.Bool("success", e.Success),
	}

	if e.ServiceName != "" {
		attrs = append(attrs, slog.String("service", e.ServiceName))
	}
	if e.TraceID != "" {
		attrs = append(attrs, slog.String("trace_id", e.TraceID))
	}
	if e.SpanID != "" {
		attrs = append(attrs, slog.String("span_id", e.SpanID))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}

	return attrs
}

// NewAuditEvent creates a new AuditEvent with timing started.
// Call Complete() when the operation finishes.
func NewAuditEvent(operation string) *AuditEvent {
	return &AuditEvent{
		Operation: operation,
		StartTime: time.Now(),
	}
}

// WithUser sets the user identity information.
func (e *AuditEvent) WithUser(email string) *AuditEvent {
	e.UserEmail = email
	return e
}

// WithService sets the upstream service name.
func (e *AuditEvent) WithService(serviceName string) *AuditEvent {
	e.ServiceName = serviceName
	return e
}

// WithSpanContext extracts trace context from the current span.
func (e *AuditEvent) WithSpanContext(ctx context.Context) *AuditEvent {
	e.TraceID = GetTraceID(ctx)
	e.SpanID = GetSpanID(ctx)
	return e
}

// Complete marks the event as completed and calculates duration.
// Returns the same AuditEvent for method chaining.
func (e *AuditEvent) Complete(success bool, err error) *AuditEvent {
	e.Duration = time.Since(e.StartTime)
	e.Success = success
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// CompleteWithError marks the event as failed with the given error.
func (e *AuditEvent) CompleteWithError(err error) *AuditEvent {
	return e.Complete(false, err)
}

// CompleteSuccess marks the event as successful.
func (e *AuditEvent) CompleteSuccess() *AuditEvent {
	return e.Complete(true, nil)
}

// AuditLogger provides structured audit logging for user-facing
// operations. It wraps slog.Logger with convenience methods.
type AuditLogger struct {
	logger     *slog.Logger
	includePII bool
	enabled    bool
}

// NewAuditLogger creates a new AuditLogger with the given slog.Logger.
// By default, PII is not included in logs (anonymized identifiers are used instead).
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: false,
		enabled:    true,
	}
}

// NewAuditLoggerWithConfig creates a new AuditLogger with the given configuration.
func NewAuditLoggerWithConfig(logger *slog.Logger, config AuditLoggingConfig) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{
		logger:     logger,
		includePII: config.IncludePII,
		enabled:    config.Enabled,
	}
}

// SetIncludePII sets whether to include full email addresses in audit logs.
func (al *AuditLogger) SetIncludePII(include bool) {
	al.includePII = include
}

// SetEnabled sets whether audit logging is enabled.
func (al *AuditLogger) SetEnabled(enabled bool) {
	al.enabled = enabled
}

// LogEvent logs an operation using the standard log attributes.
// This is suitable for general operational logging with cardinality controls.
// If the logger is configured with IncludePII, full user emails are logged;
// otherwise, only domain-based anonymized identifiers are used.
func (al *AuditLogger) LogEvent(e *AuditEvent) {
	if !al.enabled {
		return
	}

	var attrs []slog.Attr
	if al.includePII {
		attrs = e.LogAuditAttrs()
	} else {
		attrs = e.LogAttrs()
	}

	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	if e.Success {
		al.logger.Info("operation_completed", args...)
	} else {
		al.logger.Warn("operation_failed", args...)
	}
}

// LogAudit logs an operation with full audit details.
// This includes PII (full email addresses) for compliance/audit purposes.
// SECURITY: Ensure audit logs are routed to secure storage with appropriate access controls.
//
// Note: This method respects the enabled flag but always includes PII when
// called, regardless of the IncludePII configuration. Use LogEvent for
// configuration-aware logging.
func (al *AuditLogger) LogAudit(e *AuditEvent) {
	if !al.enabled {
		return
	}

	attrs := e.LogAuditAttrs()
	args := make([]any, len(attrs))
	for i, attr := range attrs {
		args[i] = attr
	}

	al.logger.Info("operation_audit", args...)
}
