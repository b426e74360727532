package revocation

import (
	"context"
	"errors"
	"time"
)

// DefaultPrefix is the key namespace used for revoked token ids.
const DefaultPrefix = "jwt:blacklist"

// MinTTL is the shortest lifetime a revocation record is given.
const MinTTL = time.Second

var (
	// ErrStoreUnavailable reports that the backing store could not answer in time.
	ErrStoreUnavailable = errors.New("revocation store unavailable")
	// ErrEmptyJTI is returned when a revocation is requested without a token id.
	ErrEmptyJTI = errors.New("revocation requires a token id")
)

// Store answers "is this jti revoked?" and records new revocations.
//
// MarkRevoked is idempotent: revoking an already revoked id resets its TTL and never
// fails for that reason. IsRevoked returns false for unknown ids.
type Store interface {
	MarkRevoked(ctx context.Context, jti string, ttl time.Duration) error
	IsRevoked(ctx context.Context, jti string) (bool, error)
	Ping(ctx context.Context) error
	Name() string
}

// TTL returns how long a revocation record must live. With a known expiry the record
// lives until the verifier stops accepting the token, exp plus leeway, and never less
// than MinTTL. Without one it falls back to the configured default token lifetime.
func TTL(expiresAt int64, hasExpiry bool, now time.Time, leeway, fallback time.Duration) time.Duration {
	if !hasExpiry {
		if fallback < MinTTL {
			return MinTTL
		}
		return fallback
	}
	if leeway < 0 {
		leeway = 0
	}
	remaining := time.Unix(expiresAt, 0).Add(leeway).Sub(now)
	if remaining < MinTTL {
		return MinTTL
	}
	return remaining
}

func normalizeTTL(ttl time.Duration) time.Duration {
	if ttl < MinTTL {
		return MinTTL
	}
	return ttl
}
