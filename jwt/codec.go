package jwt

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Algorithm names the HMAC signing scheme used for access tokens.
type Algorithm string

const (
	// HS256 is the default signing algorithm.
	HS256 Algorithm = "HS256"
	HS384 Algorithm = "HS384"
	HS512 Algorithm = "HS512"
)

const (
	maxLeeway   = 2 * time.Minute
	minLifetime = time.Second
)

var (
	// ErrInvalidToken is the parent of every decode failure.
	ErrInvalidToken = errors.New("invalid token")
	// ErrTokenMalformed reports a structurally invalid token.
	ErrTokenMalformed = fmt.Errorf("%w: malformed", ErrInvalidToken)
	// ErrTokenSignature reports a signature or algorithm mismatch.
	ErrTokenSignature = fmt.Errorf("%w: signature verification failed", ErrInvalidToken)
	// ErrTokenExpired reports a correctly signed token at or past its expiry.
	ErrTokenExpired = fmt.Errorf("%w: expired", ErrInvalidToken)
	// ErrInvalidClaims is returned by Encode for claims that cannot be issued.
	ErrInvalidClaims = errors.New("invalid claims")
	// ErrMissingSecret is a configuration error; codecs are never built without a key.
	ErrMissingSecret = errors.New("jwt secret is required")
)

// Config controls signing and verification.
type Config struct {
	Secret    []byte
	Algorithm Algorithm
	Issuer    string
	Audience  string
	Leeway    time.Duration
	Now       func() time.Time
}

// Claims is the payload carried by every access token.
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// NewClaims returns claims for subject and role; Encode fills in the rest.
func NewClaims(subject, role string) Claims {
	return Claims{Role: role, RegisteredClaims: jwt.RegisteredClaims{Subject: subject}}
}

// JTI returns the token id claim.
func (c *Claims) JTI() string {
	if c == nil {
		return ""
	}
	return c.ID
}

// ExpiresUnix returns the expiry as Unix seconds and whether the claim was present.
func (c *Claims) ExpiresUnix() (int64, bool) {
	if c == nil || c.ExpiresAt == nil {
		return 0, false
	}
	return c.ExpiresAt.Unix(), true
}

// IssuedUnix returns the issued-at claim as Unix seconds, or 0 when absent.
func (c *Claims) IssuedUnix() int64 {
	if c == nil || c.IssuedAt == nil {
		return 0
	}
	return c.IssuedAt.Unix()
}

// Codec signs and verifies access tokens. It holds no mutable state and is safe for
// concurrent use.
type Codec struct {
	secret   []byte
	method   jwt.SigningMethod
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// NewCodec validates cfg and returns a ready codec. A missing secret is rejected here
// so that misconfiguration fails at startup rather than on the first request.
func NewCodec(cfg Config) (*Codec, error) {
	if len(cfg.Secret) == 0 {
		return nil, ErrMissingSecret
	}
	if cfg.Leeway < 0 || cfg.Leeway > maxLeeway {
		return nil, errors.New("invalid leeway configuration")
	}

	alg := Algorithm(strings.ToUpper(strings.TrimSpace(string(cfg.Algorithm))))
	if alg == "" {
		alg = HS256
	}
	method, err := methodFor(alg)
	if err != nil {
		return nil, err
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	secret := make([]byte, len(cfg.Secret))
	copy(secret, cfg.Secret)

	return &Codec{
		secret:   secret,
		method:   method,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
		leeway:   cfg.Leeway,
		now:      now,
	}, nil
}

func methodFor(alg Algorithm) (jwt.SigningMethod, error) {
	switch alg {
	case HS256:
		return jwt.SigningMethodHS256, nil
	case HS384:
		return jwt.SigningMethodHS384, nil
	case HS512:
		return jwt.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
}

// Algorithm reports the configured signing algorithm.
func (c *Codec) Algorithm() Algorithm {
	return Algorithm(c.method.Alg())
}

// Encode stamps iat, exp and (when empty) a fresh jti onto claims, signs them, and
// returns the token together with the completed claims.
func (c *Codec) Encode(claims Claims, ttl time.Duration) (string, Claims, error) {
	if strings.TrimSpace(claims.Subject) == "" {
		return "", Claims{}, fmt.Errorf("%w: subject is required", ErrInvalidClaims)
	}
	if strings.TrimSpace(claims.Role) == "" {
		return "", Claims{}, fmt.Errorf("%w: role is required", ErrInvalidClaims)
	}
	if ttl < minLifetime {
		return "", Claims{}, fmt.Errorf("%w: lifetime must be at least 1s", ErrInvalidClaims)
	}

	now := c.now()
	if claims.ID == "" {
		claims.ID = uuid.NewString()
	}
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	if c.issuer != "" {
		claims.Issuer = c.issuer
	}
	if c.audience != "" {
		claims.Audience = jwt.ClaimStrings{c.audience}
	}

	token, err := jwt.NewWithClaims(c.method, claims).SignedString(c.secret)
	if err != nil {
		return "", Claims{}, err
	}
	return token, claims, nil
}

// Decode verifies token and returns its claims. Any failure satisfies
// errors.Is(err, ErrInvalidToken).
func (c *Codec) Decode(token string) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.now),
		jwt.WithExpirationRequired(),
	}
	if c.leeway > 0 {
		options = append(options, jwt.WithLeeway(c.leeway))
	}
	if c.issuer != "" {
		options = append(options, jwt.WithIssuer(c.issuer))
	}
	if c.audience != "" {
		options = append(options, jwt.WithAudience(c.audience))
	}

	claims, err := c.parse(token, options)
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// RevocationView is the result of DecodeForRevocation.
type RevocationView struct {
	Claims  *Claims
	Expired bool
}

// DecodeForRevocation verifies the signature and structure of token but tolerates a
// past expiry, so a token can still be revoked right up to (and around) its natural
// end of life. Forged or malformed tokens are still rejected, as are tokens minted
// for another issuer or audience.
func (c *Codec) DecodeForRevocation(token string) (*RevocationView, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithoutClaimsValidation(),
	}
	claims, err := c.parse(token, options)
	if err != nil {
		return nil, err
	}
	// Claims validation is off to tolerate expiry, so iss and aud are checked here.
	if c.issuer != "" && claims.Issuer != c.issuer {
		return nil, fmt.Errorf("%w: unexpected issuer", ErrTokenMalformed)
	}
	if c.audience != "" && !slices.Contains(claims.Audience, c.audience) {
		return nil, fmt.Errorf("%w: unexpected audience", ErrTokenMalformed)
	}

	view := &RevocationView{Claims: claims}
	if exp, ok := claims.ExpiresUnix(); ok && c.now().Unix() >= exp {
		view.Expired = true
	}
	return view, nil
}

func (c *Codec) parse(token string, options []jwt.ParserOption) (*Claims, error) {
	if token == "" {
		return nil, ErrTokenMalformed
	}

	parser := jwt.NewParser(options...)
	parsed, err := parser.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != c.method.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return c.secret, nil
	})
	if err != nil {
		return nil, classify(err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrTokenMalformed
	}
	return claims, nil
}

func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return ErrTokenSignature
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
