// Package restore rebuilds user sessions after a process restart. It
// walks the durable token snapshot, exchanges each stored refresh token
// for a fresh access token, mints a new session token and repopulates
// the live cache, so users do not have to re-authenticate every deploy.
package restore

import (
	"context"
	"log/slog"
	"time"

	"github.com/stayontop/mailtriage/internal/google"
	"github.com/stayontop/mailtriage/internal/instrumentation"
	"github.com/stayontop/mailtriage/internal/token"
)

// DefaultSessionTTL is the validity window of session tokens minted
// during restoration.
const DefaultSessionTTL = time.Hour

// Refresher exchanges a refresh token for fresh credential fields.
// *google.AuthService satisfies this; tests substitute a fake.
type Refresher interface {
	RefreshAccessToken(ctx context.Context, refreshToken string) (token.Fields, error)
}

// Minter issues session tokens. *session.Issuer satisfies this.
type Minter interface {
	Issue(identity string, ttl time.Duration) (string, error)
}

// Summary reports the outcome of a restoration pass.
type Summary struct {
	Found    int
	Restored int
	Failed   int
}

// Restorer repopulates the live cache from the durable store on boot.
type Restorer struct {
	store      *token.FileStore
	cache      *token.Cache
	refresher  Refresher
	minter     Minter
	sessionTTL time.Duration
	logger     *slog.Logger
}

// New creates a Restorer with the default one hour session window.
func New(store *token.FileStore, cache *token.Cache, refresher Refresher, minter Minter) *Restorer {
	return &Restorer{
		store:      store,
		cache:      cache,
		refresher:  refresher,
		minter:     minter,
		sessionTTL: DefaultSessionTTL,
		logger:     slog.Default(),
	}
}

// SetLogger sets a custom logger for the restorer.
func (r *Restorer) SetLogger(logger *slog.Logger) {
	r.logger = logger
}

// Restore walks every persisted identity and tries to bring it back to
// life. One user's revoked refresh token must not abort restoration for
// the rest, so failures are counted and logged, never returned: the
// service starts regardless of the outcome, just with fewer sessions.
func (r *Restorer) Restore(ctx context.Context) Summary {
	attrs := instrumentation.NewSpanAttributeBuilder().
		WithOperation(instrumentation.OperationRestore).
		Build()
	ctx, span := instrumentation.StartSpan(ctx, "session_restoration", attrs...)
	defer span.End()

	identities := r.store.Identities()
	summary := Summary{Found: len(identities)}

	if len(identities) == 0 {
		r.logger.Info("no persisted sessions to restore")
		instrumentation.SetSpanSuccess(span)
		return summary
	}

	r.logger.Info("restoring persisted sessions", "count", len(identities))

	for _, identity := range identities {
		if err := r.restoreOne(ctx, identity); err != nil {
			r.logger.Error("session restoration failed",
				"identity", identity, "error", err)
			summary.Failed++
			continue
		}
		r.logger.Info("session restored",
			"identity", identity,
			"session_expires", time.Now().Add(r.sessionTTL).Format(time.RFC3339))
		summary.Restored++
	}

	r.logger.Info("session restoration complete",
		"restored", summary.Restored, "failed", summary.Failed)
	instrumentation.SetSpanSuccess(span)
	return summary
}

func (r *Restorer) restoreOne(ctx context.Context, identity string) error {
	record, ok := r.store.Get(identity)
	if !ok {
		return errNoRecord
	}
	if record.RefreshToken == "" {
		// Cannot be restored silently; the user must re-authenticate.
		return errNoRefreshToken
	}

	fields, err := r.refresher.RefreshAccessToken(ctx, record.RefreshToken)
	if err != nil {
		return err
	}

	// The minted session token is self-contained; the cache record does
	// not hold it, clients obtain theirs from the API.
	if _, err := r.minter.Issue(identity, r.sessionTTL); err != nil {
		return err
	}

	r.cache.Store(identity, token.Fields{
		AccessToken:  fields.AccessToken,
		RefreshToken: record.RefreshToken,
		TokenType:    token.DefaultTokenType,
		ExpiresIn:    fields.ExpiresIn,
		Scope:        google.GmailReadonlyScope,
	})
	return nil
}

type restoreError string

func (e restoreError) Error() string { return string(e) }

const (
	errNoRecord       = restoreError("no token data found")
	errNoRefreshToken = restoreError("no refresh token stored")
)
