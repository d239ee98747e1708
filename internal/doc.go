// Package internal contains helpers private to authcore, such as uniform
// random codes and indices.
//
// # Sub-packages
//
//   - audit: synchronous and async audit dispatch plus sink implementations
//   - cache: prefixed Redis helpers, including pattern deletion across a cluster
//   - flows: backup-code and second-factor orchestration
//   - httpapi: the gin transport served by authcore-server
//   - limiters: lockout and MFA code attempt counters
//   - stores: MFA challenges and refresh tokens in Redis
package internal
