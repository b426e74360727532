package authtrail

import (
	"errors"

	"github.com/MrEthical07/authtrail/jwt"
)

var (
	// ErrUnauthorized is the only authentication failure shown to untrusted callers.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is the only authorization failure shown to untrusted callers.
	ErrForbidden = errors.New("forbidden")

	// ErrInvalidToken covers malformed, forged and expired tokens.
	ErrInvalidToken = jwt.ErrInvalidToken
	// ErrTokenExpired is a correctly signed token past its expiry.
	ErrTokenExpired = jwt.ErrTokenExpired
	// ErrTokenRevoked is a valid token whose jti has been revoked.
	ErrTokenRevoked = errors.New("token revoked")
	// ErrMalformedClaims is a verified token missing subject, role or jti.
	ErrMalformedClaims = errors.New("token claims incomplete")
	// ErrUnknownPrincipal is a token whose subject no longer exists.
	ErrUnknownPrincipal = errors.New("unknown principal")
	// ErrDisabledPrincipal is a token whose subject has been deactivated.
	ErrDisabledPrincipal = errors.New("principal disabled")
	// ErrInsufficientRole is a valid principal outside the allowed roles.
	ErrInsufficientRole = errors.New("insufficient role")
	// ErrInvalidCredentials is a failed username/password check.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrRevocationUnavailable is a fail-closed denial because the revocation
	// store could not be consulted.
	ErrRevocationUnavailable = errors.New("revocation status unavailable")
	// ErrRevocationNotConfirmed means a revoke request may not have been recorded
	// and must be retried by the caller.
	ErrRevocationNotConfirmed = errors.New("revocation not confirmed")

	// ErrValidation is a caller bug: a required argument was empty.
	ErrValidation = errors.New("validation failed")
	// ErrManagerNotReady is returned by a nil or unbuilt manager.
	ErrManagerNotReady = errors.New("manager not initialized")
)

// PublicError maps an internal failure onto what may be shown to an untrusted
// caller. Every authentication failure, including a revocation lookup that failed
// closed, becomes ErrUnauthorized so expiry and revocation are indistinguishable;
// role failures become ErrForbidden. Other errors are returned unchanged.
func PublicError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrInsufficientRole):
		return ErrForbidden
	case errors.Is(err, ErrInvalidToken),
		errors.Is(err, ErrTokenRevoked),
		errors.Is(err, ErrMalformedClaims),
		errors.Is(err, ErrUnknownPrincipal),
		errors.Is(err, ErrDisabledPrincipal),
		errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrRevocationUnavailable),
		errors.Is(err, ErrUnauthorized):
		return ErrUnauthorized
	default:
		return err
	}
}
