// Package authcore provides the credential authentication and multi-factor
// authentication engine: account lockout, credential validation, JWT access
// tokens with rotating opaque refresh tokens, and the MFA challenge lifecycle
// (TOTP, SMS, Email, backup codes).
//
// The package is designed for concurrent server workloads: Engine methods are safe to call
// from multiple goroutines after initialization through [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config], the [User]
// model and its [MfaMethod] variants, and the typed failures returned by every
// authentication flow. Redis scripts, audit dispatch and flow helpers live under
// internal/ and are never exported.
//
// Collaborators are consumed through interfaces: [UserStore], [PasswordHasher],
// [Notifier] and [AuditSink]. Concrete adapters ship in userstore/, password/,
// notify/ and internal/audit.
//
// # Shared state
//
// Every piece of state shared between requests (failed-attempt counters, lockouts,
// refresh tokens, MFA challenges) lives in Redis and is mutated only through atomic
// scripts. Backup codes are consumed through a conditional [UserStore.RemoveBackupCode]
// so that at most one concurrent caller wins a given code.
package authcore
