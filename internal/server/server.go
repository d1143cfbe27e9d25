package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"

	"github.com/stayontop/mailtriage/internal/google"
	"github.com/stayontop/mailtriage/internal/instrumentation"
	"github.com/stayontop/mailtriage/internal/session"
	"github.com/stayontop/mailtriage/internal/store"
	"github.com/stayontop/mailtriage/internal/token"
	"github.com/stayontop/mailtriage/internal/worker"
)

const (
	// DefaultAuthRateLimit is how many add_user calls one IP may make
	// per minute. Each call costs a live Google validation.
	DefaultAuthRateLimit = 10

	// DefaultReadHeaderTimeout bounds slow-header attacks.
	DefaultReadHeaderTimeout = 10 * time.Second

	// DefaultDays and DefaultMaxEmails apply when a fetch request
	// leaves them unset.
	DefaultDays      = 7
	DefaultMaxEmails = 50
)

// credentialService is the slice of the Google auth service the
// handlers use. Tests substitute a fake provider.
type credentialService interface {
	CredentialsFromFields(ctx context.Context, fields token.Fields) (*google.Credential, error)
	Validate(ctx context.Context, cred *google.Credential) (bool, *google.AccountInfo)
}

// processFunc runs the fetch pipeline for one identity.
type processFunc func(ctx context.Context, identity string, days int, maxResults int64, query string) (worker.Result, error)

// Config wires the Server's collaborators.
type Config struct {
	Addr string

	Tokens    *token.Cache
	TokenFile *token.FileStore
	Sessions  *session.Issuer
	Auth      *google.AuthService
	Emails    *store.Store
	Pool      *worker.Pool
	Clients   *ClientCache

	Metrics *instrumentation.Metrics
	Audit   *instrumentation.AuditLogger
	Logger  *slog.Logger

	// AuthRateLimit is add_user requests per minute per IP.
	// Zero means DefaultAuthRateLimit.
	AuthRateLimit uint64

	SessionTTL time.Duration
}

// Server is the mailtriage HTTP API.
type Server struct {
	addr   string
	router *httprouter.Router
	http   *http.Server

	tokens    *token.Cache
	tokenFile *token.FileStore
	sessions  *session.Issuer
	auth      credentialService
	emails    *store.Store
	pool      *worker.Pool
	clients   *ClientCache
	health    *HealthChecker

	metrics *instrumentation.Metrics
	audit   *instrumentation.AuditLogger
	logger  *slog.Logger

	authLimiter limiter.Store
	sessionTTL  time.Duration

	// process runs the fetch pipeline; replaced in tests.
	process processFunc
}

// New creates the API server. It does not start listening.
func New(cfg Config) (*Server, error) {
	rate := cfg.AuthRateLimit
	if rate == 0 {
		rate = DefaultAuthRateLimit
	}
	authLimiter, err := memorystore.New(&memorystore.Config{
		Tokens:   rate,
		Interval: time.Minute,
	})
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = &instrumentation.Metrics{}
	}
	audit := cfg.Audit
	if audit == nil {
		audit = instrumentation.NewAuditLogger(logger)
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL == 0 {
		sessionTTL = session.DefaultTTL
	}

	s := &Server{
		addr:        cfg.Addr,
		tokens:      cfg.Tokens,
		tokenFile:   cfg.TokenFile,
		sessions:    cfg.Sessions,
		auth:        cfg.Auth,
		emails:      cfg.Emails,
		pool:        cfg.Pool,
		clients:     cfg.Clients,
		metrics:     metrics,
		audit:       audit,
		logger:      logger,
		authLimiter: authLimiter,
		sessionTTL:  sessionTTL,
	}
	s.health = NewHealthChecker(cfg.Clients)
	s.process = s.runPipeline
	s.router = s.routes()
	return s, nil
}

// Health returns the server's health checker so startup code can flip
// readiness once restoration completes.
func (s *Server) Health() *HealthChecker {
	return s.health
}

// Handler returns the root HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() *httprouter.Router {
	router := httprouter.New()

	router.HandlerFunc(http.MethodGet, "/api/health", s.instrument("/api/health", s.handleHealth))
	router.HandlerFunc(http.MethodPost, "/api/add_user", s.instrument("/api/add_user", s.rateLimited(s.handleAddUser)))
	router.Handle(http.MethodDelete, "/api/users/:email", s.instrumented("/api/users/:email", s.authorized(s.handleRemoveUser)))
	router.HandlerFunc(http.MethodPost, "/api/fetch_emails", s.instrument("/api/fetch_emails", s.authorizedFunc(s.handleFetchEmails)))
	router.HandlerFunc(http.MethodGet, "/api/emails", s.instrument("/api/emails", s.authorizedFunc(s.handleListEmails)))
	router.HandlerFunc(http.MethodGet, "/api/emails/summary", s.instrument("/api/emails/summary", s.authorizedFunc(s.handleEmailSummary)))
	router.HandlerFunc(http.MethodGet, "/api/session/validate", s.instrument("/api/session/validate", s.handleSessionValidate))
	router.HandlerFunc(http.MethodGet, "/api/session/stats", s.instrument("/api/session/stats", s.handleSessionStats))

	router.Handler(http.MethodGet, "/healthz", s.health.LivenessHandler())
	router.Handler(http.MethodGet, "/readyz", s.health.ReadinessHandler())
	router.Handler(http.MethodGet, "/healthz/detailed", s.health.DetailedHealthHandler())

	return router
}

// Start runs the HTTP server until the context is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.logger.Info("starting API server", slog.String("addr", s.addr))
	return s.http.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.health.SetReady(false)
	if s.clients != nil {
		s.clients.Shutdown()
	}
	if s.http != nil {
		return s.http.Shutdown(ctx)
	}
	return nil
}

// statusRecorder captures the response code for metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps a handler with request metrics and logging. The
// route template is used as the path label to keep cardinality bounded.
func (s *Server) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		duration := time.Since(start)

		s.metrics.RecordHTTPRequest(r.Context(), r.Method, route, rec.status, duration)
		s.logger.Debug("request handled",
			slog.String("method", r.Method),
			slog.String("path", route),
			slog.Int("status", rec.status),
			slog.Duration("duration", duration))
	}
}

// instrumented is instrument for httprouter.Handle signatures.
func (s *Server) instrumented(route string, next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s.instrument(route, func(w http.ResponseWriter, r *http.Request) {
			next(w, r, ps)
		})(w, r)
	}
}

// rateLimited enforces the per-IP limit on expensive auth endpoints.
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		_, _, _, ok, err := s.authLimiter.Take(r.Context(), clientIP(r))
		if err != nil {
			writeError(w, http.StatusInternalServerError, "rate limiter unavailable")
			return
		}
		if !ok {
			writeError(w, http.StatusTooManyRequests, "too many authentication attempts, retry later")
			return
		}
		next(w, r)
	}
}

// identityHandler is a handler that has passed session authentication.
type identityHandler func(w http.ResponseWriter, r *http.Request, identity string)

// authorizedFunc requires a valid Bearer session token and passes the
// authenticated identity to the handler.
func (s *Server) authorizedFunc(next identityHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		next(w, r, identity)
	}
}

// authorized additionally enforces that the :email route parameter
// matches the session identity.
func (s *Server) authorized(next identityHandler) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		identity, ok := s.authenticate(w, r)
		if !ok {
			return
		}
		if email := ps.ByName("email"); email != "" && email != identity {
			writeError(w, http.StatusForbidden, "session does not match requested user")
			return
		}
		next(w, r, identity)
	}
}

func (s *Server) authenticate(w http.ResponseWriter, r *http.Request) (string, bool) {
	tokenString, ok := bearerToken(r)
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing bearer session token")
		return "", false
	}
	identity, ok := s.sessions.IdentityOf(tokenString)
	if !ok {
		writeError(w, http.StatusUnauthorized, "invalid or expired session token")
		return "", false
	}
	return identity, true
}

// bearerToken extracts the token from an Authorization header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	return strings.TrimSpace(header[len(prefix):]), true
}

// clientIP returns the remote address without the port, used as the
// rate limit key.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
