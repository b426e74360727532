package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/argon2"
)

const phcPrefix = "$argon2id$"

var (
	ErrMalformedHash = errors.New("password hash is not a supported argon2id PHC string")
	ErrTooShort      = errors.New("password is shorter than the configured minimum")
	ErrTooLong       = errors.New("password exceeds the configured maximum")
	ErrWeakParams    = errors.New("argon2 parameters below the accepted floor")
)

// Params are the argon2id cost settings used for new hashes.
type Params struct {
	MemoryKB    uint32 `koanf:"memory_kb"`
	Iterations  uint32 `koanf:"iterations"`
	Parallelism uint8  `koanf:"parallelism"`
	SaltLength  uint32 `koanf:"salt_length"`
	KeyLength   uint32 `koanf:"key_length"`
	MinLength   int    `koanf:"min_length"`
	MaxLength   int    `koanf:"max_length"`
}

// DefaultParams returns the OWASP-recommended argon2id profile.
func DefaultParams() Params {
	return Params{
		MemoryKB:    64 * 1024,
		Iterations:  3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
		MinLength:   8,
		MaxLength:   1024,
	}
}

func (p Params) validate() error {
	switch {
	case p.MemoryKB < 8*1024:
		return fmt.Errorf("%w: memory must be >= 8192 KB", ErrWeakParams)
	case p.Iterations < 1:
		return fmt.Errorf("%w: iterations must be >= 1", ErrWeakParams)
	case p.Parallelism < 1:
		return fmt.Errorf("%w: parallelism must be >= 1", ErrWeakParams)
	case p.SaltLength < 16:
		return fmt.Errorf("%w: salt length must be >= 16", ErrWeakParams)
	case p.KeyLength < 16:
		return fmt.Errorf("%w: key length must be >= 16", ErrWeakParams)
	case p.MaxLength > 0 && p.MaxLength < p.MinLength:
		return errors.New("password max length must not be below min length")
	}
	return nil
}

// Hasher hashes and verifies passwords. It holds no mutable state.
type Hasher struct {
	params Params
}

func NewHasher(p Params) (*Hasher, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	return &Hasher{params: p}, nil
}

// Hash returns a PHC-encoded argon2id hash with a fresh random salt.
func (h *Hasher) Hash(plain string) (string, error) {
	if err := h.checkLength(plain); err != nil {
		return "", err
	}

	salt := make([]byte, h.params.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(plain), salt, h.params.Iterations, h.params.MemoryKB, h.params.Parallelism, h.params.KeyLength)

	return fmt.Sprintf("%sv=%d$m=%d,t=%d,p=%d$%s$%s",
		phcPrefix,
		argon2.Version,
		h.params.MemoryKB, h.params.Iterations, h.params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plain matches encoded. The cost parameters are read from
// encoded, so hashes made under older settings keep verifying.
func (h *Hasher) Verify(plain, encoded string) (bool, error) {
	if h.params.MaxLength > 0 && len(plain) > h.params.MaxLength {
		return false, ErrTooLong
	}
	d, err := decode(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(plain), d.salt, d.iterations, d.memoryKB, d.parallelism, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1, nil
}

// NeedsRehash reports whether encoded was produced with weaker settings than h.
func (h *Hasher) NeedsRehash(encoded string) (bool, error) {
	d, err := decode(encoded)
	if err != nil {
		return false, err
	}
	return d.memoryKB < h.params.MemoryKB ||
		d.iterations < h.params.Iterations ||
		d.parallelism < h.params.Parallelism ||
		uint32(len(d.key)) != h.params.KeyLength, nil
}

func (h *Hasher) checkLength(plain string) error {
	if len(plain) < h.params.MinLength {
		return ErrTooShort
	}
	if h.params.MaxLength > 0 && len(plain) > h.params.MaxLength {
		return ErrTooLong
	}
	return nil
}

type decoded struct {
	memoryKB    uint32
	iterations  uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func decode(encoded string) (decoded, error) {
	var d decoded
	if !strings.HasPrefix(encoded, phcPrefix) {
		return d, ErrMalformedHash
	}
	// v=19 | m=..,t=..,p=.. | salt | key
	fields := strings.Split(strings.TrimPrefix(encoded, phcPrefix), "$")
	if len(fields) != 4 {
		return d, ErrMalformedHash
	}

	var version int
	if _, err := fmt.Sscanf(fields[0], "v=%d", &version); err != nil || version != argon2.Version {
		return d, fmt.Errorf("%w: unsupported version", ErrMalformedHash)
	}
	var p uint32
	if _, err := fmt.Sscanf(fields[1], "m=%d,t=%d,p=%d", &d.memoryKB, &d.iterations, &p); err != nil {
		return d, fmt.Errorf("%w: bad parameters", ErrMalformedHash)
	}
	if d.memoryKB < 8*1024 || d.iterations < 1 || p < 1 || p > 255 {
		return d, fmt.Errorf("%w: parameters out of range", ErrMalformedHash)
	}
	d.parallelism = uint8(p)

	var err error
	if d.salt, err = decodeB64(fields[2]); err != nil || len(d.salt) < 16 {
		return d, fmt.Errorf("%w: bad salt", ErrMalformedHash)
	}
	if d.key, err = decodeB64(fields[3]); err != nil || len(d.key) == 0 {
		return d, fmt.Errorf("%w: bad key", ErrMalformedHash)
	}
	return d, nil
}

// decodeB64 accepts padded and unpadded standard base64; both appear in PHC strings
// produced by different libraries.
func decodeB64(s string) ([]byte, error) {
	if strings.HasSuffix(s, "=") {
		return base64.StdEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}
