package google

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	oauth2google "golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/stayontop/mailtriage/internal/instrumentation"
	"github.com/stayontop/mailtriage/internal/token"
)

// DefaultProviderTimeout bounds every call to Google. A provider call
// that exceeds it fails; retry policy belongs to the caller.
const DefaultProviderTimeout = 30 * time.Second

// Config configures the AuthService.
type Config struct {
	// ClientID and ClientSecret identify this application to Google.
	// Both are required for refresh exchanges.
	ClientID     string
	ClientSecret string

	// Endpoint overrides Google's OAuth2 endpoint. Tests point this at
	// an httptest server; production leaves it empty.
	Endpoint oauth2.Endpoint

	// GmailBaseURL overrides the Gmail API base URL for tests.
	GmailBaseURL string

	// HTTPClient overrides the provider HTTP client. The default has a
	// 30 second timeout.
	HTTPClient *http.Client

	Logger *slog.Logger
}

// AccountInfo is the metadata Google returns for a validated account.
type AccountInfo struct {
	Email         string `json:"email"`
	MessagesTotal int64  `json:"messages_total"`
	ThreadsTotal  int64  `json:"threads_total"`
}

// Credential wraps an OAuth2 token with the token source used to present
// it to Gmail. Refresh-incapable credentials carry a static source.
type Credential struct {
	tok         *oauth2.Token
	source      oauth2.TokenSource
	refreshable bool
}

// TokenSource returns the source Google API clients should use.
func (c *Credential) TokenSource() oauth2.TokenSource {
	return c.source
}

// AccessToken returns the current bearer token string.
func (c *Credential) AccessToken() string {
	return c.tok.AccessToken
}

// Refreshable reports whether the credential can renew itself.
func (c *Credential) Refreshable() bool {
	return c.refreshable
}

// AuthService validates credentials against Google and performs refresh
// exchanges. It is safe for concurrent use.
type AuthService struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *instrumentation.Metrics
}

// NewAuthService creates an AuthService. Missing client credentials are
// a configuration error: refresh exchanges would fail in confusing ways
// at runtime, so the service refuses to initialize instead.
func NewAuthService(config Config) (*AuthService, error) {
	if config.ClientID == "" || config.ClientSecret == "" {
		return nil, fmt.Errorf("%w: google client id and secret are required", token.ErrConfiguration)
	}
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultProviderTimeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
		metrics:    &instrumentation.Metrics{},
	}, nil
}

// SetMetrics sets the metrics recorder for provider call observability.
func (s *AuthService) SetMetrics(metrics *instrumentation.Metrics) {
	if metrics != nil {
		s.metrics = metrics
	}
}

// oauthConfig returns the OAuth2 configuration used for refresh
// exchanges.
func (s *AuthService) oauthConfig() *oauth2.Config {
	endpoint := s.config.Endpoint
	if endpoint.TokenURL == "" {
		endpoint = oauth2google.Endpoint
	}
	return &oauth2.Config{
		ClientID:     s.config.ClientID,
		ClientSecret: s.config.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       []string{GmailReadonlyScope},
	}
}

// providerContext attaches the timeout-bounded HTTP client so the
// oauth2 package uses it for token endpoint calls.
func (s *AuthService) providerContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, s.httpClient)
}

// CredentialsFromFields builds a Credential from a client submission.
//
// With a refresh token present the credential is wired to the full
// OAuth2 configuration and renews itself transparently. Without one it
// is a minimal static credential that can only expire.
func (s *AuthService) CredentialsFromFields(ctx context.Context, fields token.Fields) (*Credential, error) {
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	tokenType := fields.TokenType
	if tokenType == "" {
		tokenType = token.DefaultTokenType
	}
	expiresIn := token.DefaultExpiresIn
	if fields.ExpiresIn > 0 {
		expiresIn = time.Duration(fields.ExpiresIn) * time.Second
	}
	tok := &oauth2.Token{
		AccessToken:  fields.AccessToken,
		TokenType:    tokenType,
		RefreshToken: fields.RefreshToken,
		Expiry:       time.Now().Add(expiresIn),
	}

	if fields.HasRefreshToken() {
		return &Credential{
			tok:         tok,
			source:      s.oauthConfig().TokenSource(s.providerContext(ctx), tok),
			refreshable: true,
		}, nil
	}

	// Access-token-only: a static source with no refresh machinery.
	return &Credential{
		tok:         tok,
		source:      oauth2.StaticTokenSource(tok),
		refreshable: false,
	}, nil
}

// Validate confirms a credential is currently accepted by Google with a
// lightweight profile call, and returns the authenticated identity plus
// account metadata. All provider rejections collapse to a false result;
// the distinction between "expired with no refresh capability" and
// "malformed token" exists only in the logs.
func (s *AuthService) Validate(ctx context.Context, cred *Credential) (bool, *AccountInfo) {
	svc, err := s.gmailService(ctx, cred)
	if err != nil {
		s.logger.Error("could not build gmail service for validation", "error", err)
		return false, nil
	}

	start := time.Now()
	profile, err := svc.Users.GetProfile("me").Context(ctx).Do()
	status := instrumentation.StatusSuccess
	if err != nil {
		status = instrumentation.StatusError
	}
	s.metrics.RecordGoogleAPIOperation(ctx, instrumentation.OperationProfile, status, time.Since(start))
	if err != nil {
		if apiErr, ok := err.(*googleapi.Error); ok {
			switch apiErr.Code {
			case http.StatusUnauthorized:
				s.logger.Info("credential validation failed: token rejected by provider",
					"refreshable", cred.Refreshable())
			case http.StatusForbidden:
				s.logger.Info("credential validation failed: insufficient scope or access")
			default:
				s.logger.Warn("credential validation failed", "status", apiErr.Code, "error", apiErr)
			}
		} else {
			s.logger.Warn("credential validation failed", "error", err)
		}
		return false, nil
	}

	return true, &AccountInfo{
		Email:         profile.EmailAddress,
		MessagesTotal: profile.MessagesTotal,
		ThreadsTotal:  profile.ThreadsTotal,
	}
}

// RefreshAccessToken exchanges a refresh token for a fresh access token.
// Provider rejection surfaces as ErrInvalidRefreshToken, which is
// terminal for the identity until the user re-authenticates.
func (s *AuthService) RefreshAccessToken(ctx context.Context, refreshToken string) (token.Fields, error) {
	if refreshToken == "" {
		return token.Fields{}, fmt.Errorf("%w: refresh token is empty", token.ErrInvalidRefreshToken)
	}

	source := s.oauthConfig().TokenSource(s.providerContext(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
	})
	start := time.Now()
	tok, err := source.Token()
	duration := time.Since(start)
	if err != nil {
		s.metrics.RecordTokenRefresh(ctx, instrumentation.ResultFailure)
		s.metrics.RecordGoogleAPIOperation(ctx, instrumentation.OperationRefresh, instrumentation.StatusError, duration)
		s.logger.Warn("refresh exchange rejected by provider", "error", err)
		return token.Fields{}, fmt.Errorf("%w: %v", token.ErrInvalidRefreshToken, err)
	}
	s.metrics.RecordTokenRefresh(ctx, instrumentation.ResultSuccess)
	s.metrics.RecordGoogleAPIOperation(ctx, instrumentation.OperationRefresh, instrumentation.StatusSuccess, duration)

	// The provider may rotate the refresh token; keep whichever is live.
	newRefresh := tok.RefreshToken
	if newRefresh == "" {
		newRefresh = refreshToken
	}

	expiresIn := int64(token.DefaultExpiresIn.Seconds())
	if !tok.Expiry.IsZero() {
		if remaining := time.Until(tok.Expiry); remaining > 0 {
			expiresIn = int64(remaining.Seconds())
		}
	}

	return token.Fields{
		AccessToken:  tok.AccessToken,
		RefreshToken: newRefresh,
		TokenType:    token.DefaultTokenType,
		ExpiresIn:    expiresIn,
		Scope:        GmailReadonlyScope,
	}, nil
}

// gmailService builds a Gmail API client bound to the credential.
func (s *AuthService) gmailService(ctx context.Context, cred *Credential) (*gmail.Service, error) {
	opts := []option.ClientOption{option.WithTokenSource(cred.TokenSource())}
	if s.config.GmailBaseURL != "" {
		opts = append(opts, option.WithEndpoint(s.config.GmailBaseURL))
	}
	return gmail.NewService(ctx, opts...)
}
