package token

import "errors"

// Error kinds surfaced by the credential subsystem. Callers match with
// errors.Is; the HTTP layer maps them onto response codes.
var (
	// ErrMalformedInput means a submitted credential failed structural
	// validation before any network call was attempted.
	ErrMalformedInput = errors.New("malformed token input")

	// ErrInvalidCredentials means Google rejected the access token.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrInvalidRefreshToken means the refresh exchange was rejected
	// (revoked, malformed or expired refresh token). Terminal for that
	// identity until the user re-authenticates.
	ErrInvalidRefreshToken = errors.New("invalid refresh token")

	// ErrPersistence means the durable store could not be written. The
	// in-memory state is still updated; the caller decides whether that
	// is acceptable.
	ErrPersistence = errors.New("token persistence failed")

	// ErrConfiguration means a required secret or identifier is absent.
	// Components refuse to initialize rather than run without it.
	ErrConfiguration = errors.New("missing configuration")
)
