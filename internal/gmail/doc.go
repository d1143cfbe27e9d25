// Package gmail fetches messages from the Gmail API and parses the raw
// payloads into structured emails.
//
// The Client wraps the Gmail Users service and handles date-bounded
// queries with pagination. The Parser turns a raw API message into an
// Email: decoded bodies, cleaned sender address, attachment counts and
// a parsed receive date.
package gmail
