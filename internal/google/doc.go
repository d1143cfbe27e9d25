// Package google talks to Google's OAuth2 and Gmail endpoints on behalf
// of the credential subsystem: it validates submitted bearer tokens by
// making a lightweight authenticated profile call, and exchanges refresh
// tokens for fresh access tokens.
//
// Credentials built from an access token alone are deliberately minimal:
// no client id, secret or token endpoint is attached, so an accidental
// refresh attempt cannot occur and silently fail.
package google
