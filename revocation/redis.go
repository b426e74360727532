package revocation

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultOpTimeout = 500 * time.Millisecond

// RedisStore keeps revocation markers as `<prefix>:<jti>` keys with native expiry.
//
//	Performance: 1 Redis command per call.
type RedisStore struct {
	redis     redis.UniversalClient
	prefix    string
	opTimeout time.Duration
}

// NewRedisStore creates a [RedisStore] over an injected client. An empty prefix uses
// [DefaultPrefix]; a non-positive timeout uses 500ms.
func NewRedisStore(client redis.UniversalClient, prefix string, opTimeout time.Duration) *RedisStore {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if opTimeout <= 0 {
		opTimeout = defaultOpTimeout
	}
	return &RedisStore{
		redis:     client,
		prefix:    prefix,
		opTimeout: opTimeout,
	}
}

func (s *RedisStore) key(jti string) string {
	return s.prefix + ":" + jti
}

// Name implements [Store].
func (s *RedisStore) Name() string { return "redis" }

// MarkRevoked writes the marker with SET EX. The write is a single command, so a
// timeout or cancellation leaves either a complete record or none; callers must treat
// an error as "not confirmed" and retry.
func (s *RedisStore) MarkRevoked(ctx context.Context, jti string, ttl time.Duration) error {
	if jti == "" {
		return ErrEmptyJTI
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.redis.Set(ctx, s.key(jti), "1", normalizeTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// IsRevoked implements [Store].
func (s *RedisStore) IsRevoked(ctx context.Context, jti string) (bool, error) {
	if jti == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	n, err := s.redis.Exists(ctx, s.key(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return n > 0, nil
}

// Ping implements [Store].
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	if err := s.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return nil
}

// RemainingTTL reports the live TTL of a marker, mainly for operators and tests.
// A missing key returns 0.
func (s *RedisStore) RemainingTTL(ctx context.Context, jti string) (time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, s.opTimeout)
	defer cancel()

	ttl, err := s.redis.TTL(ctx, s.key(jti)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if ttl < 0 {
		return 0, nil
	}
	return ttl, nil
}

// RedisConfig carries the connection settings for the shared revocation service.
type RedisConfig struct {
	URL      string        `koanf:"url"`
	Password string        `koanf:"password"`
	TLS      bool          `koanf:"tls"`
	PoolSize int           `koanf:"pool_size"`
	Timeout  time.Duration `koanf:"timeout"`
}

// NewRedisClient dials the configured Redis and verifies it with a PING. TLS, when
// enabled, requires TLS 1.2+ and verifies the server hostname.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.Timeout > 0 {
		opts.DialTimeout = cfg.Timeout
		opts.ReadTimeout = cfg.Timeout
		opts.WriteTimeout = cfg.Timeout
	}
	if cfg.TLS && opts.TLSConfig == nil {
		host, _, splitErr := net.SplitHostPort(opts.Addr)
		if splitErr != nil {
			host = opts.Addr
		}
		opts.TLSConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
			ServerName: host,
		}
	}

	client := redis.NewClient(opts)

	pingCtx := ctx
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return client, nil
}
