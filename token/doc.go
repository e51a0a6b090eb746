// Package token issues and verifies the two signed artifacts of the login
// protocol: day-scale session tokens and minutes-scale temporary tokens
// minted mid-login while a second factor is outstanding. Both are stateless
// JWTs carrying principal id, username, role, and principal variant; the
// purpose claim keeps them strictly apart, so a temporary token never passes
// a session check and vice versa.
//
// Signing supports HS256 and Ed25519, mirroring the key handling of the rest
// of the platform.
package token
