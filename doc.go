// Package authtrail issues and verifies short-lived JWT access tokens, revokes them
// through a shared store, and records every security-relevant action in a
// tamper-evident audit chain.
//
// A [Manager] is assembled with [Builder] and is safe for concurrent use. It keeps no
// token state itself: revocations live in a [revocation.Store] (Redis in production)
// so that a token revoked by one process is rejected by all of them, and audit
// entries are appended to an [audit.Chain].
//
// # Failure policy
//
// If the revocation store cannot be reached, Authenticate fails closed with
// ErrRevocationUnavailable. Config.Revocation.FailOpen inverts that; every token
// accepted that way is logged at WARN and audited as REVOCATION_FAIL_OPEN.
//
// Revoke never reports success for a write the store did not acknowledge. It retries
// up to Config.Revocation.MarkRetries times and then returns
// ErrRevocationNotConfirmed.
//
// # Errors at the boundary
//
// Internal errors distinguish expiry, revocation and principal state. Use
// [PublicError] before answering an untrusted caller so all of them collapse to
// ErrUnauthorized (or ErrForbidden for role failures).
package authtrail
