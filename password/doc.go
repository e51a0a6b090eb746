// Package password provides one-way salted hashing for every stored secret in
// the authentication core: primary passwords, master passwords, and individual
// backup codes. Hashes are argon2id in PHC string format and are verified with
// a constant-time comparison.
//
// The hasher accepts secrets of any length. Password policy (minimum length,
// complexity) is a protocol concern and is enforced by callers, not here:
// backup codes are eight characters and run through the same hasher.
package password
