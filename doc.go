// Package authcore implements principal authentication and two-factor
// verification for the Feastbook meal-planning platform: password login for
// the two principal variants (top-level accounts and delegated family
// members), an admin-only master password, a TOTP second factor with
// single-use backup codes, and the stateless session/temporary tokens the
// rest of the API authorizes against.
//
// The package is designed for concurrent server workloads: Engine methods
// are safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// authcore is the public surface. It exposes [Engine], [Builder], [Config],
// the [Principal] model, the store interfaces, and the audit value types.
// Credential persistence lives behind [PrincipalStore]/[MemberStore]
// (implementations under stores/), token signing under token/, hashing under
// password/, and code verification under totp/.
//
// # What this package must NOT do
//
//   - Persist anything itself, or leak store/driver types in its public API.
//   - Distinguish "unknown username" from "wrong password" in any output a
//     caller can observe.
//   - Let an audit emission failure fail the flow that emitted it.
package authcore
