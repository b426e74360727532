package revocation

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend names a revocation storage strategy.
type Backend string

const (
	BackendRedis  Backend = "redis"
	BackendMemory Backend = "memory"
)

// ErrMemoryInProduction is returned when the in-memory backend is selected for a
// production profile without an explicit opt-in.
var ErrMemoryInProduction = errors.New("in-memory revocation store is not allowed in production mode")

// Config selects and tunes the backend.
type Config struct {
	Backend                 Backend
	Prefix                  string
	OpTimeout               time.Duration
	ProductionMode          bool
	AllowMemoryInProduction bool
	Now                     func() time.Time
}

// New builds the backend named by cfg.Backend. Selecting memory is always a
// deliberate, logged choice; it is refused in production mode unless
// AllowMemoryInProduction is set.
func New(cfg Config, client redis.UniversalClient, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Backend {
	case BackendRedis, "":
		if client == nil {
			return nil, errors.New("redis revocation backend requires a redis client")
		}
		return NewRedisStore(client, cfg.Prefix, cfg.OpTimeout), nil
	case BackendMemory:
		if cfg.ProductionMode && !cfg.AllowMemoryInProduction {
			return nil, ErrMemoryInProduction
		}
		logger.Warn("using in-memory revocation store; revocations are not shared across processes",
			"production_mode", cfg.ProductionMode,
		)
		return NewMemoryStore(cfg.Now), nil
	default:
		return nil, fmt.Errorf("unknown revocation backend %q", cfg.Backend)
	}
}
