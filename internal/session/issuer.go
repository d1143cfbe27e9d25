package session

import (
	"fmt"
	"log/slog"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/stayontop/mailtriage/internal/token"
)

const (
	// TokenType is the fixed type discriminator carried in the "typ"
	// claim. A token minted for any other purpose must never verify
	// as a session token.
	TokenType = "session"

	// DefaultTTL is the validity window used when callers pass ttl <= 0.
	DefaultTTL = time.Hour
)

// Claims are the decoded contents of a session token.
type Claims struct {
	Identity  string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Type      string
	ID        string
}

// Issuer mints and verifies session tokens with a symmetric secret.
type Issuer struct {
	secret []byte
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewIssuer creates an issuer. A missing secret is a configuration
// error: the issuer refuses to construct rather than mint unverifiable
// tokens.
func NewIssuer(secret string) (*Issuer, error) {
	return NewIssuerWithClock(secret, clockwork.NewRealClock())
}

// NewIssuerWithClock creates an issuer with an injected clock for tests.
func NewIssuerWithClock(secret string, clock clockwork.Clock) (*Issuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: session signing secret is not set", token.ErrConfiguration)
	}
	return &Issuer{
		secret: []byte(secret),
		clock:  clock,
		logger: slog.Default(),
	}, nil
}

// SetLogger sets a custom logger for the issuer.
func (i *Issuer) SetLogger(logger *slog.Logger) {
	i.logger = logger
}

// Issue mints a signed session token for an identity. ttl <= 0 falls
// back to the one hour default; tests pass an explicit short ttl.
func (i *Issuer) Issue(identity string, ttl time.Duration) (string, error) {
	if ttl < 0 {
		ttl = DefaultTTL
	}
	now := i.clock.Now()
	expiry := now.Add(ttl)

	claims := jwtlib.MapClaims{
		"sub": identity,
		"iat": now.Unix(),
		"exp": expiry.Unix(),
		"typ": TokenType,
		"jti": uuid.New().String(),
	}

	signed, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}

	i.logger.Info("issued session token",
		"identity", identity,
		"expires_at", expiry)
	return signed, nil
}

// Verify checks signature, expiry and type tag. All invalid states are
// reported uniformly as (false, nil); the specific reason is logged but
// never exposed to the caller.
func (i *Issuer) Verify(tokenString string) (bool, *Claims) {
	parsed, err := jwtlib.Parse(tokenString,
		func(t *jwtlib.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
			}
			return i.secret, nil
		},
		jwtlib.WithTimeFunc(i.clock.Now),
		jwtlib.WithValidMethods([]string{jwtlib.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		i.logger.Warn("session token rejected", "error", err)
		return false, nil
	}

	claims, err := claimsFrom(parsed.Claims)
	if err != nil {
		i.logger.Warn("session token rejected", "error", err)
		return false, nil
	}
	if claims.Type != TokenType {
		i.logger.Warn("session token rejected", "error", "wrong token type")
		return false, nil
	}
	return true, claims
}

// Inspect decodes claims without verifying signature or expiry. For
// diagnostics only; never use its result to authorize anything.
func (i *Issuer) Inspect(tokenString string) (*Claims, error) {
	parsed, _, err := jwtlib.NewParser().ParseUnverified(tokenString, jwtlib.MapClaims{})
	if err != nil {
		return nil, fmt.Errorf("decode session token: %w", err)
	}
	return claimsFrom(parsed.Claims)
}

// IdentityOf extracts the identity from a valid token.
func (i *Issuer) IdentityOf(tokenString string) (string, bool) {
	ok, claims := i.Verify(tokenString)
	if !ok {
		return "", false
	}
	return claims.Identity, true
}

// ExpiryOf returns the embedded expiry without verifying the signature.
func (i *Issuer) ExpiryOf(tokenString string) (time.Time, bool) {
	claims, err := i.Inspect(tokenString)
	if err != nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt, true
}

// IsExpired reports whether the embedded expiry has passed. Tokens that
// cannot be decoded count as expired.
func (i *Issuer) IsExpired(tokenString string) bool {
	expiry, ok := i.ExpiryOf(tokenString)
	if !ok {
		return true
	}
	return !i.clock.Now().Before(expiry)
}

func claimsFrom(raw jwtlib.Claims) (*Claims, error) {
	mapClaims, ok := raw.(jwtlib.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims shape")
	}

	c := &Claims{}
	c.Identity, _ = mapClaims["sub"].(string)
	c.Type, _ = mapClaims["typ"].(string)
	c.ID, _ = mapClaims["jti"].(string)
	if iat, ok := mapClaims["iat"].(float64); ok {
		c.IssuedAt = time.Unix(int64(iat), 0)
	}
	exp, ok := mapClaims["exp"].(float64)
	if !ok {
		return nil, fmt.Errorf("session token has no expiry")
	}
	c.ExpiresAt = time.Unix(int64(exp), 0)
	return c, nil
}
