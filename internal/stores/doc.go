// Package stores holds the Redis-backed records of the engine: MFA challenges
// and refresh tokens.
//
// Records are Redis hashes with a TTL. Every state transition that must happen
// at most once (marking a challenge used, counting a failed attempt, rotating
// or revoking a refresh token) runs as a single Lua script, so concurrent
// callers observe exactly one winner. Expiry is checked against the caller's
// clock as well as enforced by the key TTL.
//
// Secrets never reach Redis in plaintext: challenge codes and refresh tokens
// are stored as SHA-256 digests and compared in constant time.
//
// This package does not generate codes or make authentication decisions, and
// it imports no other authcore package.
package stores
