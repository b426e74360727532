// Package middleware adapts an authtrail.Manager to net/http.
//
//   - [Guard] authenticates the bearer token and stores the principal in the context.
//   - [RequireRoles] authorizes the stored principal against a role list.
//   - [LogoutHandler] revokes the presented token.
//
// Responses never say why a token was refused: expired, revoked and forged tokens
// all get the same 401 body. The caller's address and request id headers are
// attached to the request context so they appear in audit entries.
package middleware
