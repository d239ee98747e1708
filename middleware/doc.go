// Package middleware exposes net/http adapters that authorize requests with
// access tokens issued by an authcore.Engine.
//
// # Guards
//
//   - [Guard] accepts any valid bearer token.
//   - [RequirePermission] also requires a permission claim.
//   - [RequireRole] also requires a role claim.
//
// Each guard reads the Authorization header, validates the token through
// Engine.ValidateToken and injects the decoded [authcore.Principal] into the
// request context.
//
// This package translates HTTP semantics into Engine calls. It never parses
// JWTs or touches Redis itself.
package middleware
