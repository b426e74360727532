package authtrail

import (
	"errors"
	"strings"
	"time"

	"github.com/MrEthical07/authtrail/audit"
	"github.com/MrEthical07/authtrail/jwt"
	"github.com/MrEthical07/authtrail/password"
	"github.com/MrEthical07/authtrail/revocation"
)

// Config holds every tunable of a [Manager]. Start from [DefaultConfig] and
// override; [Config.Validate] runs again at build time.
type Config struct {
	Token          TokenConfig            `koanf:"token"`
	Revocation     RevocationConfig       `koanf:"revocation"`
	Redis          revocation.RedisConfig `koanf:"redis"`
	Password       password.Params        `koanf:"password"`
	Audit          AuditConfig            `koanf:"audit"`
	Metrics        MetricsConfig          `koanf:"metrics"`
	ProductionMode bool                   `koanf:"production_mode"`
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig controls signing and lifetime of access tokens.
type TokenConfig struct {
	Secret    string        `koanf:"secret"`
	Algorithm string        `koanf:"algorithm"`
	AccessTTL time.Duration `koanf:"access_ttl"`
	Issuer    string        `koanf:"issuer"`
	Audience  string        `koanf:"audience"`
	Leeway    time.Duration `koanf:"leeway"`

	// LegacyJTIFallback derives a pseudo-jti (hex SHA-256 of the token string)
	// for tokens minted without one, so they stay revocable. Off unless
	// tokens from an older issuer must still be honoured.
	LegacyJTIFallback bool `koanf:"legacy_jti_fallback"`
}

/*
====================================
REVOCATION CONFIG
====================================
*/

// RevocationConfig selects the revocation backend and its failure policy.
type RevocationConfig struct {
	Backend   revocation.Backend `koanf:"backend"`
	Prefix    string             `koanf:"prefix"`
	OpTimeout time.Duration      `koanf:"op_timeout"`

	// FailOpen accepts tokens when the store cannot be reached. Every such
	// acceptance is logged and audited. Default is fail-closed.
	FailOpen bool `koanf:"fail_open"`

	MarkRetries  int           `koanf:"mark_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// DefaultTTL is used for revocations of tokens that carry no expiry.
	DefaultTTL time.Duration `koanf:"default_ttl"`

	AllowMemoryInProduction bool `koanf:"allow_memory_in_production"`
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

// AuditConfig controls mirroring of the audit chain to external sinks.
type AuditConfig struct {
	Enabled     bool          `koanf:"enabled"`
	BufferSize  int           `koanf:"buffer_size"`
	DropIfFull  bool          `koanf:"drop_if_full"`
	SinkTimeout time.Duration `koanf:"sink_timeout"`

	FilePath       string `koanf:"file_path"`
	FileMaxSizeMB  int    `koanf:"file_max_size_mb"`
	FileMaxBackups int    `koanf:"file_max_backups"`
	FileMaxAgeDays int    `koanf:"file_max_age_days"`

	RedisStream       string `koanf:"redis_stream"`
	RedisStreamMaxLen int64  `koanf:"redis_stream_max_len"`
}

// MetricsConfig toggles in-process counters and latency histograms.
type MetricsConfig struct {
	Enabled                 bool `koanf:"enabled"`
	EnableLatencyHistograms bool `koanf:"enable_latency_histograms"`
}

// DefaultConfig returns a fail-closed, Redis-backed profile. The token secret is
// intentionally empty and must be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Algorithm: string(jwt.HS256),
			AccessTTL: 15 * time.Minute,
		},
		Revocation: RevocationConfig{
			Backend:      revocation.BackendRedis,
			Prefix:       revocation.DefaultPrefix,
			OpTimeout:    500 * time.Millisecond,
			MarkRetries:  2,
			RetryBackoff: 50 * time.Millisecond,
			DefaultTTL:   15 * time.Minute,
		},
		Redis: revocation.RedisConfig{
			PoolSize: 10,
			Timeout:  5 * time.Second,
		},
		Password: password.DefaultParams(),
		Audit: AuditConfig{
			Enabled:        false,
			BufferSize:     1024,
			DropIfFull:     true,
			SinkTimeout:    audit.DefaultSinkTimeout,
			FileMaxSizeMB:  100,
			FileMaxBackups: 10,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

/*
====================================
VALIDATION
====================================
*/

// Validate rejects configurations that would weaken token or revocation guarantees.
func (c *Config) Validate() error {
	// Token
	if c.Token.Secret == "" {
		return jwt.ErrMissingSecret
	}
	if c.ProductionMode && len(c.Token.Secret) < 32 {
		return errors.New("Token Secret must be at least 32 bytes in production mode")
	}
	switch jwt.Algorithm(strings.ToUpper(c.Token.Algorithm)) {
	case jwt.HS256, jwt.HS384, jwt.HS512, "":
	default:
		return errors.New("Token Algorithm must be HS256, HS384 or HS512")
	}
	if c.Token.AccessTTL < time.Second {
		return errors.New("Token AccessTTL must be >= 1s")
	}
	if c.Token.Leeway < 0 || c.Token.Leeway > 2*time.Minute {
		return errors.New("Token Leeway must be within [0, 2m]")
	}

	// Revocation
	switch c.Revocation.Backend {
	case revocation.BackendRedis, revocation.BackendMemory, "":
	default:
		return errors.New("Revocation Backend must be 'redis' or 'memory'")
	}
	if c.Revocation.Backend == revocation.BackendMemory && c.ProductionMode && !c.Revocation.AllowMemoryInProduction {
		return revocation.ErrMemoryInProduction
	}
	if c.Revocation.OpTimeout <= 0 {
		return errors.New("Revocation OpTimeout must be > 0")
	}
	if c.Revocation.MarkRetries < 0 || c.Revocation.MarkRetries > 10 {
		return errors.New("Revocation MarkRetries must be within [0, 10]")
	}
	if c.Revocation.RetryBackoff < 0 {
		return errors.New("Revocation RetryBackoff must be >= 0")
	}
	if c.Revocation.DefaultTTL < time.Second {
		return errors.New("Revocation DefaultTTL must be >= 1s")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when enabled")
	}
	if c.Audit.RedisStreamMaxLen < 0 {
		return errors.New("Audit RedisStreamMaxLen must be >= 0")
	}
	if c.Audit.SinkTimeout < 0 {
		return errors.New("Audit SinkTimeout must be >= 0")
	}

	return nil
}
