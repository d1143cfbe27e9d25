// Package session issues and verifies the short-lived signed tokens
// that represent "this caller proved control of a Gmail identity
// recently". Session tokens are HS256 JWTs minted with a server-held
// secret; they are independent of the Google credential lifecycle and
// carry no refresh capability. Expiry is the only path to invalidity --
// there is no revocation list.
package session
