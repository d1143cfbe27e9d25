// Package token manages per-user Google OAuth credentials.
//
// It provides two stores with identical contracts:
//
//   - Cache: a process-local, mutex-guarded map used on every request.
//     It is lost on restart and is repopulated by the restore package.
//   - FileStore: a durable JSON snapshot on disk that survives restarts.
//     Every mutation rewrites the snapshot atomically (write to a temp
//     file, rename over the target) under an advisory file lock.
//
// Both stores compute an absolute expiry from the relative "expires_in"
// a client submits (default 3600s) and treat a credential as unusable
// five minutes before it actually expires, so that a token handed to an
// in-flight Gmail request does not expire mid-call.
package token
