// Package jwt encodes and decodes signed, expiring access tokens carrying a subject,
// a role, and a unique token id (jti).
//
// Decoding verifies algorithm, signature, structure, and expiry only. Revocation is
// not consulted here; the lifecycle manager layers it on top.
package jwt
