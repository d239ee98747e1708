// Package flows holds the pure pieces of the MFA flows: backup-code
// generation and single-use consumption, and the primary-then-backup order
// of second-factor verification.
//
// Each function takes a typed dependency struct and performs no I/O of its
// own. The engine supplies hashing, randomness and store access through
// those structs, so the ordering rules are tested without Redis or a user
// store.
//
// This package must not import authcore.
package flows
