// Package identity resolves who is behind an API call.
//
// It provides:
//   - UserTokenIssuer: issues and verifies HS256 user session JWTs
//   - RequireUser: Gin middleware enforcing a Bearer user token
//   - SignerFromCtx: the principal recorded as a ledger entry's signer
package identity
