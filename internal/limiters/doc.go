// Package limiters holds the Redis-backed attempt counters of the engine.
//
//   - [LockoutLimiter] counts failed credential checks per username and writes
//     the lock atomically with the increment that reaches the threshold.
//   - [MfaCodeLimiter] bounds wrong MFA codes submitted without a challenge.
//
// Limiters only count. The engine decides what a reached threshold means.
package limiters
