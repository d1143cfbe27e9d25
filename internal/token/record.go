package token

import (
	"fmt"
	"time"
)

const (
	// DefaultTokenType is assumed when a submission omits token_type.
	DefaultTokenType = "Bearer"

	// DefaultExpiresIn is assumed when a submission omits expires_in.
	// Google access tokens typically live one hour.
	DefaultExpiresIn = 3600 * time.Second

	// ExpirySafetyBuffer is subtracted from a credential's expiry before
	// it is considered usable, to avoid races with in-flight requests.
	ExpirySafetyBuffer = 5 * time.Minute

	// minAccessTokenLen is a plausibility floor for submitted access
	// tokens; real Google tokens are far longer.
	minAccessTokenLen = 20
)

// Fields is a provider credential as submitted by a client, or as
// returned by a refresh exchange.
type Fields struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Validate performs structural validation of a submission. It never
// touches the network; provider-side validation happens separately.
func (f Fields) Validate() error {
	if f.AccessToken == "" {
		return fmt.Errorf("%w: access_token is required", ErrMalformedInput)
	}
	if len(f.AccessToken) < minAccessTokenLen {
		return fmt.Errorf("%w: access_token too short", ErrMalformedInput)
	}
	return nil
}

// HasRefreshToken reports whether the credential can be silently renewed.
func (f Fields) HasRefreshToken() bool {
	return f.RefreshToken != ""
}

// Record is one user's stored provider authorization. Exactly one live
// Record exists per identity; a new submission overwrites the prior one.
type Record struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	TokenType    string    `json:"token_type"`
	Scope        string    `json:"scope,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	StoredAt     time.Time `json:"stored_at"`
}

// newRecord materializes a submission into a Record at the given time,
// applying the token type and expiry defaults.
func newRecord(f Fields, now time.Time) *Record {
	tokenType := f.TokenType
	if tokenType == "" {
		tokenType = DefaultTokenType
	}
	expiresIn := DefaultExpiresIn
	if f.ExpiresIn > 0 {
		expiresIn = time.Duration(f.ExpiresIn) * time.Second
	}
	return &Record{
		AccessToken:  f.AccessToken,
		RefreshToken: f.RefreshToken,
		TokenType:    tokenType,
		Scope:        f.Scope,
		ExpiresAt:    now.Add(expiresIn),
		StoredAt:     now,
	}
}

// usable reports whether the record is still valid at the given time,
// honoring the safety buffer.
func (r *Record) usable(now time.Time) bool {
	return now.Before(r.ExpiresAt.Add(-ExpirySafetyBuffer))
}

// clone returns a copy so callers can't mutate store-internal state.
func (r *Record) clone() *Record {
	c := *r
	return &c
}
