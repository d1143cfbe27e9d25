package session

import (
	"errors"
	"testing"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stayontop/mailtriage/internal/token"
)

const testSecret = "unit-test-signing-secret"

func newTestIssuer(t *testing.T) (*Issuer, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClock()
	issuer, err := NewIssuerWithClock(testSecret, clock)
	require.NoError(t, err)
	return issuer, clock
}

func TestNewIssuer_MissingSecret(t *testing.T) {
	_, err := NewIssuer("")
	require.Error(t, err)
	assert.True(t, errors.Is(err, token.ErrConfiguration))
}

func TestIssuer_IssueAndVerify(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	tok, err := issuer.Issue("alice@gmail.com", time.Hour)
	require.NoError(t, err)
	require.NotEmpty(t, tok)

	ok, claims := issuer.Verify(tok)
	require.True(t, ok)
	assert.Equal(t, "alice@gmail.com", claims.Identity)
	assert.Equal(t, TokenType, claims.Type)
	assert.NotEmpty(t, claims.ID)
	assert.Equal(t, clock.Now().Unix(), claims.IssuedAt.Unix())
	assert.Equal(t, clock.Now().Add(time.Hour).Unix(), claims.ExpiresAt.Unix())
}

func TestIssuer_ZeroTTLIsImmediatelyExpired(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	tok, err := issuer.Issue("alice@gmail.com", 0)
	require.NoError(t, err)

	ok, claims := issuer.Verify(tok)
	assert.False(t, ok)
	assert.Nil(t, claims)
	assert.True(t, issuer.IsExpired(tok))
}

func TestIssuer_ExpiryInvalidates(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	tok, err := issuer.Issue("alice@gmail.com", time.Hour)
	require.NoError(t, err)

	clock.Advance(time.Hour + time.Second)
	ok, _ := issuer.Verify(tok)
	assert.False(t, ok)
	assert.True(t, issuer.IsExpired(tok))
}

func TestIssuer_TamperedSignatureFails(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	tok, err := issuer.Issue("alice@gmail.com", time.Hour)
	require.NoError(t, err)

	// Flip the last character of the signature.
	tampered := tok[:len(tok)-1]
	if tok[len(tok)-1] == 'A' {
		tampered += "B"
	} else {
		tampered += "A"
	}

	ok, claims := issuer.Verify(tampered)
	assert.False(t, ok)
	assert.Nil(t, claims)
}

func TestIssuer_WrongSecretFails(t *testing.T) {
	issuer, _ := newTestIssuer(t)
	other, err := NewIssuer("a-different-signing-secret")
	require.NoError(t, err)

	tok, err := issuer.Issue("alice@gmail.com", time.Hour)
	require.NoError(t, err)

	ok, _ := other.Verify(tok)
	assert.False(t, ok)
}

func TestIssuer_RejectsWrongTokenType(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	// A structurally identical token minted for another purpose must
	// never be accepted as a session token.
	now := clock.Now()
	claims := jwtlib.MapClaims{
		"sub": "alice@gmail.com",
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
		"typ": "api_key",
	}
	other, err := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	ok, _ := issuer.Verify(other)
	assert.False(t, ok)
}

func TestIssuer_GarbageNeverPanics(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	for _, tok := range []string{"", "garbage", "a.b", "a.b.c.d", "ey.ey.ey"} {
		ok, claims := issuer.Verify(tok)
		assert.False(t, ok, "token %q", tok)
		assert.Nil(t, claims)
		assert.True(t, issuer.IsExpired(tok))
	}
}

func TestIssuer_InspectIgnoresExpiryAndSignature(t *testing.T) {
	issuer, clock := newTestIssuer(t)

	tok, err := issuer.Issue("alice@gmail.com", time.Minute)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	claims, err := issuer.Inspect(tok)
	require.NoError(t, err)
	assert.Equal(t, "alice@gmail.com", claims.Identity)

	expiry, ok := issuer.ExpiryOf(tok)
	require.True(t, ok)
	assert.True(t, clock.Now().After(expiry))
}

func TestIssuer_IdentityOf(t *testing.T) {
	issuer, _ := newTestIssuer(t)

	tok, err := issuer.Issue("bob@gmail.com", time.Hour)
	require.NoError(t, err)

	identity, ok := issuer.IdentityOf(tok)
	require.True(t, ok)
	assert.Equal(t, "bob@gmail.com", identity)

	_, ok = issuer.IdentityOf("not-a-token")
	assert.False(t, ok)
}
