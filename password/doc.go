// Package password hashes and verifies secrets for authcore: account passwords
// in user stores and backup codes in the engine.
//
// # Formats
//
// [Argon2] writes PHC strings:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Bcrypt] writes standard $2a$/$2b$ strings. [Chain] hashes with its primary
// hasher and verifies with whichever hasher recognizes the stored prefix, so
// stores can migrate between algorithms without a flag day.
//
// This package never stores, logs or normalizes plaintext. It imports no other
// authcore package.
package password
