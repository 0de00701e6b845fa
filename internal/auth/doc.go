// Package auth issues and validates Gray Logic Sync client tokens.
//
// A client registers with the shared secret and receives an HS256 JWT
// bound to its client id. The server stores only the token's SHA-256 hash.
// Validation checks signature, expiry, record existence, revocation and the
// stored hash, in that order. Every failure is an *AuthError carrying a
// Reason for logs; callers on the network boundary must answer only
// "unauthorised".
//
// Records live in SQLite (SQLiteClientRepository) and are cached in the
// Service. Revocation is a soft flag and notifies OnRevoke listeners so open
// Sync Channels are closed straight away.
package auth
