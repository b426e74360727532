package authtrail

import (
	"errors"
	"fmt"
	"testing"

	"github.com/MrEthical07/authtrail/jwt"
)

func TestPublicError(t *testing.T) {
	internal := errors.New("boom")
	cases := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"expired", jwt.ErrTokenExpired, ErrUnauthorized},
		{"forged", jwt.ErrTokenSignature, ErrUnauthorized},
		{"revoked", ErrTokenRevoked, ErrUnauthorized},
		{"malformed claims", fmt.Errorf("%w: missing jti", ErrMalformedClaims), ErrUnauthorized},
		{"unknown principal", ErrUnknownPrincipal, ErrUnauthorized},
		{"disabled principal", ErrDisabledPrincipal, ErrUnauthorized},
		{"bad credentials", ErrInvalidCredentials, ErrUnauthorized},
		{"fail closed", fmt.Errorf("%w: %w", ErrRevocationUnavailable, internal), ErrUnauthorized},
		{"role", ErrInsufficientRole, ErrForbidden},
		{"other", internal, internal},
	}
	for _, tc := range cases {
		if got := PublicError(tc.in); got != tc.want {
			t.Fatalf("%s: got %v want %v", tc.name, got, tc.want)
		}
	}
}

func TestExpiredIsInvalidToken(t *testing.T) {
	if !errors.Is(ErrTokenExpired, ErrInvalidToken) {
		t.Fatal("expired must be an invalid-token class error")
	}
	if errors.Is(ErrTokenRevoked, ErrTokenExpired) || errors.Is(ErrTokenExpired, ErrTokenRevoked) {
		t.Fatal("revocation and expiry must stay distinguishable internally")
	}
}

func TestAuditErrorCode(t *testing.T) {
	cases := map[error]AuditErrorCode{
		nil:                       "",
		jwt.ErrTokenExpired:       auditErrExpired,
		jwt.ErrTokenMalformed:     auditErrInvalidToken,
		ErrTokenRevoked:           auditErrRevoked,
		ErrRevocationNotConfirmed: auditErrNotConfirmed,
		ErrRevocationUnavailable:  auditErrStoreUnavailable,
		ErrValidation:             auditErrValidation,
		errors.New("x"):           auditErrInternal,
	}
	for err, want := range cases {
		if got := auditErrorCode(err); got != want {
			t.Fatalf("auditErrorCode(%v) = %q, want %q", err, got, want)
		}
	}
}
