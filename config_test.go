package authtrail

import (
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authtrail/jwt"
	"github.com/MrEthical07/authtrail/revocation"
)

func TestDefaultConfigNeedsOnlySecret(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); !errors.Is(err, jwt.ErrMissingSecret) {
		t.Fatalf("expected ErrMissingSecret, got %v", err)
	}
	cfg.Token.Secret = testSecret
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config with secret should validate: %v", err)
	}
	if cfg.Revocation.FailOpen {
		t.Fatal("default must be fail-closed")
	}
	if cfg.Token.LegacyJTIFallback {
		t.Fatal("legacy jti fallback must be off by default")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantValid bool
	}{
		{
			name:      "algorithm lowercase valid",
			mutate:    func(c *Config) { c.Token.Algorithm = "hs512" },
			wantValid: true,
		},
		{
			name:      "algorithm rs256 invalid",
			mutate:    func(c *Config) { c.Token.Algorithm = "RS256" },
			wantValid: false,
		},
		{
			name:      "access ttl below one second invalid",
			mutate:    func(c *Config) { c.Token.AccessTTL = 500 * time.Millisecond },
			wantValid: false,
		},
		{
			name:      "leeway valid",
			mutate:    func(c *Config) { c.Token.Leeway = 30 * time.Second },
			wantValid: true,
		},
		{
			name:      "leeway too large invalid",
			mutate:    func(c *Config) { c.Token.Leeway = 3 * time.Minute },
			wantValid: false,
		},
		{
			name:      "negative audit sink timeout invalid",
			mutate:    func(c *Config) { c.Audit.SinkTimeout = -time.Second },
			wantValid: false,
		},
		{
			name:      "unknown backend invalid",
			mutate:    func(c *Config) { c.Revocation.Backend = "etcd" },
			wantValid: false,
		},
		{
			name:      "memory backend outside production valid",
			mutate:    func(c *Config) { c.Revocation.Backend = revocation.BackendMemory },
			wantValid: true,
		},
		{
			name:      "zero op timeout invalid",
			mutate:    func(c *Config) { c.Revocation.OpTimeout = 0 },
			wantValid: false,
		},
		{
			name:      "negative retries invalid",
			mutate:    func(c *Config) { c.Revocation.MarkRetries = -1 },
			wantValid: false,
		},
		{
			name:      "too many retries invalid",
			mutate:    func(c *Config) { c.Revocation.MarkRetries = 11 },
			wantValid: false,
		},
		{
			name:      "negative backoff invalid",
			mutate:    func(c *Config) { c.Revocation.RetryBackoff = -time.Millisecond },
			wantValid: false,
		},
		{
			name:      "short default ttl invalid",
			mutate:    func(c *Config) { c.Revocation.DefaultTTL = 0 },
			wantValid: false,
		},
		{
			name:      "fail open is an explicit valid choice",
			mutate:    func(c *Config) { c.Revocation.FailOpen = true },
			wantValid: true,
		},
		{
			name: "audit enabled without buffer invalid",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.BufferSize = 0
			},
			wantValid: false,
		},
		{
			name:      "negative stream max len invalid",
			mutate:    func(c *Config) { c.Audit.RedisStreamMaxLen = -1 },
			wantValid: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.Token.Secret = testSecret
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantValid && err != nil {
				t.Fatalf("expected valid, got %v", err)
			}
			if !tc.wantValid && err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestConfigProductionHardening(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProductionMode = true
	cfg.Token.Secret = "short"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected short secret to be rejected in production")
	}

	cfg.Token.Secret = testSecret
	cfg.Revocation.Backend = revocation.BackendMemory
	if err := cfg.Validate(); !errors.Is(err, revocation.ErrMemoryInProduction) {
		t.Fatalf("expected ErrMemoryInProduction, got %v", err)
	}

	cfg.Revocation.AllowMemoryInProduction = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("explicit opt-in should validate: %v", err)
	}
}
