// Package revocation records revoked token ids with a time-to-live bounded by the
// remaining lifetime of the token they revoke.
//
// # Backends
//
// [RedisStore] is the production backend: one SET with expiry per revocation and one
// EXISTS per lookup, each bounded by an operation timeout. [MemoryStore] is a
// process-local substitute for tests and development. The backend is chosen
// explicitly through [New]; nothing in this package silently swaps one for the other.
//
// # Failure semantics
//
// Backend failures (unreachable server, timeout, cancellation) are reported as
// [ErrStoreUnavailable]. Deciding whether that means "deny" or "allow" is the
// caller's policy, not the store's.
package revocation
