// Package jwt issues and verifies authcore access tokens.
//
// Tokens are HS256-signed and carry the user's identity, one "role" entry per
// role and one "permission" entry per permission. Verification pins the
// algorithm, issuer and audience. [Manager.ParseIgnoringLifetime] skips only the
// time-based checks and exists for diagnostics.
//
// Secret rotation is supported through [Config.KeyID] and [Config.VerifyKeys]:
// new tokens are signed with Secret under KeyID, and older tokens keep
// verifying while their kid remains in VerifyKeys.
package jwt
