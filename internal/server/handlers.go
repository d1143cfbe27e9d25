package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/stayontop/mailtriage/internal/instrumentation"
	"github.com/stayontop/mailtriage/internal/logging"
	"github.com/stayontop/mailtriage/internal/store"
	"github.com/stayontop/mailtriage/internal/token"
	"github.com/stayontop/mailtriage/internal/worker"
)

// serviceName and serviceVersion identify the service in health
// responses. Version is stamped at build time via cmd.
var (
	ServiceName    = "mailtriage"
	ServiceVersion = "dev"
)

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Status: "error", Message: message})
}

// handleHealth serves GET /api/health.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": ServiceName,
		"version": ServiceVersion,
	})
}

// addUserResponse is the success payload for POST /api/add_user.
type addUserResponse struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	UserEmail    string `json:"user_email"`
	SessionToken string `json:"session_token"`
	ExpiresIn    int64  `json:"expires_in"`
	GmailInfo    struct {
		TotalMessages int64 `json:"total_messages"`
		TotalThreads  int64 `json:"total_threads"`
	} `json:"gmail_info"`
}

// handleAddUser serves POST /api/add_user: validate the submitted OAuth
// token against Google, persist it, and hand back a session token.
func (s *Server) handleAddUser(w http.ResponseWriter, r *http.Request) {
	event := instrumentation.NewAuditEvent(instrumentation.OperationAddUser).
		WithService(instrumentation.ServiceGmail).
		WithSpanContext(r.Context())

	var fields token.Fields
	if err := json.NewDecoder(r.Body).Decode(&fields); err != nil {
		s.metrics.RecordAuthAttempt(r.Context(), instrumentation.ResultFailure)
		writeError(w, http.StatusBadRequest, "no token data provided")
		return
	}

	cred, err := s.auth.CredentialsFromFields(r.Context(), fields)
	if err != nil {
		s.metrics.RecordAuthAttempt(r.Context(), instrumentation.ResultFailure)
		if errors.Is(err, token.ErrMalformedInput) {
			writeError(w, http.StatusBadRequest, "invalid token: "+err.Error())
			return
		}
		writeError(w, http.StatusBadRequest, "invalid credentials")
		return
	}

	valid, info := s.auth.Validate(r.Context(), cred)
	if !valid || info == nil || info.Email == "" {
		s.metrics.RecordAuthAttempt(r.Context(), instrumentation.ResultFailure)
		s.audit.LogEvent(event.CompleteWithError(errors.New("provider rejected credentials")))
		writeError(w, http.StatusUnauthorized, "failed to validate Gmail connection")
		return
	}
	identity := info.Email
	event.WithUser(identity)

	// Write-through: the live cache is authoritative, the file keeps
	// tokens across restarts.
	s.tokens.Store(identity, fields)
	if err := s.tokenFile.Store(identity, fields); err != nil {
		s.metrics.RecordAuthAttempt(r.Context(), instrumentation.ResultFailure)
		s.audit.LogEvent(event.CompleteWithError(err))
		writeError(w, http.StatusInternalServerError, "failed to persist token")
		return
	}
	s.clients.Invalidate(identity)

	sessionToken, err := s.sessions.Issue(identity, s.sessionTTL)
	if err != nil {
		s.metrics.RecordAuthAttempt(r.Context(), instrumentation.ResultFailure)
		s.audit.LogEvent(event.CompleteWithError(err))
		writeError(w, http.StatusInternalServerError, "failed to issue session token")
		return
	}

	s.metrics.RecordAuthAttempt(r.Context(), instrumentation.ResultSuccess)
	s.metrics.IncrementActiveSessions(r.Context())
	s.audit.LogEvent(event.CompleteSuccess())
	s.logger.Info("user registered", logging.UserHash(identity))

	resp := addUserResponse{
		Status:       "success",
		Message:      "Gmail connection established successfully",
		UserEmail:    identity,
		SessionToken: sessionToken,
		ExpiresIn:    int64(s.sessionTTL / time.Second),
	}
	resp.GmailInfo.TotalMessages = info.MessagesTotal
	resp.GmailInfo.TotalThreads = info.ThreadsTotal
	writeJSON(w, http.StatusOK, resp)
}

// handleRemoveUser serves DELETE /api/users/:email. The authorization
// middleware has already checked the identity matches the route.
func (s *Server) handleRemoveUser(w http.ResponseWriter, r *http.Request, identity string) {
	event := instrumentation.NewAuditEvent(instrumentation.OperationRemoveUser).
		WithUser(identity).
		WithSpanContext(r.Context())

	s.tokens.Remove(identity)
	s.clients.Invalidate(identity)
	if err := s.tokenFile.Remove(identity); err != nil {
		s.audit.LogEvent(event.CompleteWithError(err))
		writeError(w, http.StatusInternalServerError, "failed to remove stored token")
		return
	}

	// Stored emails are only purged when explicitly requested.
	if r.URL.Query().Get("purge") == "true" {
		if _, err := s.emails.DeleteForIdentity(r.Context(), identity); err != nil {
			s.audit.LogEvent(event.CompleteWithError(err))
			writeError(w, http.StatusInternalServerError, "failed to purge stored emails")
			return
		}
	}

	s.metrics.DecrementActiveSessions(r.Context())
	s.audit.LogEvent(event.CompleteSuccess())
	s.logger.Info("user removed", logging.UserHash(identity))

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "user removed",
	})
}

// fetchRequest is the body for POST /api/fetch_emails.
type fetchRequest struct {
	DaysBack  int    `json:"days_back"`
	MaxEmails int64  `json:"max_emails"`
	Query     string `json:"query"`
}

// handleFetchEmails serves POST /api/fetch_emails: run the pipeline
// over the caller's recent mail.
func (s *Server) handleFetchEmails(w http.ResponseWriter, r *http.Request, identity string) {
	event := instrumentation.NewAuditEvent(instrumentation.OperationFetchEmails).
		WithUser(identity).
		WithService(instrumentation.ServiceGmail).
		WithSpanContext(r.Context())

	req := fetchRequest{DaysBack: DefaultDays, MaxEmails: DefaultMaxEmails}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}
	if req.DaysBack < 1 {
		req.DaysBack = DefaultDays
	}
	if req.MaxEmails < 1 {
		req.MaxEmails = DefaultMaxEmails
	}

	if !s.tokens.IsValid(identity) {
		s.audit.LogEvent(event.CompleteWithError(errors.New("no usable token")))
		writeError(w, http.StatusUnauthorized, "no valid token found for user, call /api/add_user first")
		return
	}

	result, err := s.process(r.Context(), identity, req.DaysBack, req.MaxEmails, req.Query)
	if err != nil {
		s.audit.LogEvent(event.CompleteWithError(err))
		writeError(w, http.StatusBadGateway, "failed to fetch emails from Gmail")
		return
	}

	s.audit.LogEvent(event.CompleteSuccess())
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "success",
		"processed_count": result.Processed,
		"total_fetched":   result.Fetched,
		"skipped_count":   result.Skipped,
		"errors_count":    result.Failed,
	})
}

// runPipeline is the production processFunc: build a Gmail client for
// the identity and drain its recent mail through the worker pool.
func (s *Server) runPipeline(ctx context.Context, identity string, days int, maxResults int64, query string) (worker.Result, error) {
	client, err := s.clients.ClientFor(ctx, identity)
	if err != nil {
		return worker.Result{}, err
	}
	result, err := s.pool.Process(ctx, client, identity, days, maxResults, query)

	for i := 0; i < result.Processed; i++ {
		s.metrics.RecordEmailProcessed(ctx, instrumentation.ResultProcessed, identity)
	}
	for i := 0; i < result.Skipped; i++ {
		s.metrics.RecordEmailProcessed(ctx, instrumentation.ResultSkipped, identity)
	}
	for i := 0; i < result.Failed; i++ {
		s.metrics.RecordEmailProcessed(ctx, instrumentation.ResultFailed, identity)
	}
	return result, err
}

// handleListEmails serves GET /api/emails: stored emails for the
// caller, filtered and paged.
func (s *Server) handleListEmails(w http.ResponseWriter, r *http.Request, identity string) {
	q := r.URL.Query()

	filter := store.ListFilter{
		Identity: identity,
		Priority: q.Get("priority"),
		Category: q.Get("category"),
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a valid integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset"), 0); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a valid integer")
		return
	}

	records, err := s.emails.List(r.Context(), filter)
	if err != nil {
		if errors.Is(err, token.ErrMalformedInput) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to list emails")
		return
	}
	if records == nil {
		records = []*store.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"emails": records,
		"count":  len(records),
	})
}

// handleEmailSummary serves GET /api/emails/summary.
func (s *Server) handleEmailSummary(w http.ResponseWriter, r *http.Request, identity string) {
	summary, err := s.emails.Summarize(r.Context(), identity)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to summarize emails")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "success",
		"summary": summary,
	})
}

// handleSessionValidate serves GET /api/session/validate: report
// whether the presented session token is valid and for whom.
func (s *Server) handleSessionValidate(w http.ResponseWriter, r *http.Request) {
	tokenString, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer session token")
		return
	}

	valid, claims := s.sessions.Verify(tokenString)
	if !valid {
		writeJSON(w, http.StatusUnauthorized, map[string]any{
			"status": "error",
			"valid":  false,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "success",
		"valid":      true,
		"user_email": claims.Identity,
		"expires_at": claims.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

// handleSessionStats serves GET /api/session/stats: aggregate counts
// over the live token cache. No identities are exposed.
func (s *Server) handleSessionStats(w http.ResponseWriter, r *http.Request) {
	identities := s.tokens.Identities()
	valid := 0
	for _, identity := range identities {
		if s.tokens.IsValid(identity) {
			valid++
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "success",
		"total_users":    len(identities),
		"valid_tokens":   valid,
		"expired_tokens": len(identities) - valid,
	})
}

func intParam(value string, fallback int) (int, error) {
	if value == "" {
		return fallback, nil
	}
	return strconv.Atoi(value)
}
