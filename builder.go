package authtrail

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/authtrail/audit"
	"github.com/MrEthical07/authtrail/jwt"
	"github.com/MrEthical07/authtrail/password"
	"github.com/MrEthical07/authtrail/revocation"
	"github.com/redis/go-redis/v9"
)

// Builder assembles a [Manager]. It is single-use.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	store      revocation.Store
	principals PrincipalProvider
	hasher     *password.Hasher
	chain      *audit.Chain
	sinks      []audit.Sink
	logger     *slog.Logger
	now        func() time.Time

	built bool
}

// New returns a builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis injects the shared Redis client used by the redis revocation backend
// and the audit stream sink. Without it, Build dials Config.Redis.URL when set.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithRevocationStore bypasses backend selection entirely.
func (b *Builder) WithRevocationStore(store revocation.Store) *Builder {
	b.store = store
	return b
}

func (b *Builder) WithPrincipalProvider(p PrincipalProvider) *Builder {
	b.principals = p
	return b
}

func (b *Builder) WithPasswordHasher(h *password.Hasher) *Builder {
	b.hasher = h
	return b
}

// WithAuditChain makes the manager append to an existing chain instead of a new one.
func (b *Builder) WithAuditChain(chain *audit.Chain) *Builder {
	b.chain = chain
	return b
}

// WithAuditSink adds a sink fed by the audit dispatcher. Sinks only receive entries
// when Config.Audit.Enabled is true.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.sinks = append(b.sinks, sink)
	return b
}

func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source for token stamping, verification, the
// in-memory store and audit timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := b.config
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.principals == nil {
		return nil, errors.New("principal provider required")
	}

	logger := b.logger
	if logger == nil {
		logger = slog.Default()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	// -------- TOKEN CODEC --------
	codec, err := jwt.NewCodec(jwt.Config{
		Secret:    []byte(cfg.Token.Secret),
		Algorithm: jwt.Algorithm(cfg.Token.Algorithm),
		Issuer:    cfg.Token.Issuer,
		Audience:  cfg.Token.Audience,
		Leeway:    cfg.Token.Leeway,
		Now:       now,
	})
	if err != nil {
		return nil, err
	}

	m := &Manager{
		config:     cfg,
		codec:      codec,
		principals: b.principals,
		metrics:    NewMetrics(cfg.Metrics),
		logger:     logger,
		now:        now,
	}

	// -------- REVOCATION STORE --------
	client := b.redis
	if b.store != nil {
		m.store = b.store
	} else {
		if client == nil && cfg.Redis.URL != "" && cfg.Revocation.Backend != revocation.BackendMemory {
			owned, err := revocation.NewRedisClient(context.Background(), cfg.Redis)
			if err != nil {
				return nil, err
			}
			client = owned
			m.closers = append(m.closers, owned)
		}
		store, err := revocation.New(revocation.Config{
			Backend:                 cfg.Revocation.Backend,
			Prefix:                  cfg.Revocation.Prefix,
			OpTimeout:               cfg.Revocation.OpTimeout,
			ProductionMode:          cfg.ProductionMode,
			AllowMemoryInProduction: cfg.Revocation.AllowMemoryInProduction,
			Now:                     now,
		}, client, logger)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.store = store
	}

	// -------- PASSWORD HASHER --------
	m.hasher = b.hasher
	if m.hasher == nil {
		hasher, err := password.NewHasher(cfg.Password)
		if err != nil {
			m.Close()
			return nil, err
		}
		m.hasher = hasher
	}

	// -------- AUDIT --------
	m.chain = b.chain
	if m.chain == nil {
		opts := []audit.Option{audit.WithLogger(logger), audit.WithClock(now)}
		if cfg.Audit.Enabled {
			sink, err := b.auditSinks(cfg.Audit, client, logger, m)
			if err != nil {
				m.Close()
				return nil, err
			}
			m.dispatcher = audit.NewDispatcher(audit.DispatcherConfig{
				Enabled:     true,
				BufferSize:  cfg.Audit.BufferSize,
				DropIfFull:  cfg.Audit.DropIfFull,
				SinkTimeout: cfg.Audit.SinkTimeout,
			}, sink)
			opts = append(opts, audit.WithDispatcher(m.dispatcher))
		}
		m.chain = audit.NewChain(opts...)
	}

	if cfg.Revocation.FailOpen {
		logger.Warn("revocation fail-open enabled: tokens are accepted when the revocation store is unreachable")
	}

	b.built = true
	return m, nil
}

func (b *Builder) auditSinks(cfg AuditConfig, client redis.UniversalClient, logger *slog.Logger, m *Manager) (audit.Sink, error) {
	sinks := append(audit.MultiSink{}, b.sinks...)

	if cfg.FilePath != "" {
		file, err := audit.NewFileSink(audit.FileSinkConfig{
			Filename:   cfg.FilePath,
			MaxSizeMB:  cfg.FileMaxSizeMB,
			MaxBackups: cfg.FileMaxBackups,
			MaxAgeDays: cfg.FileMaxAgeDays,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, file)
		m.closers = append(m.closers, file)
	}

	if cfg.RedisStream != "" {
		if client == nil {
			return nil, errors.New("Audit RedisStream requires a redis client")
		}
		sinks = append(sinks, audit.NewRedisStreamSink(client, cfg.RedisStream, cfg.RedisStreamMaxLen, logger))
	}

	if len(sinks) == 0 {
		return audit.NoOpSink{}, nil
	}
	return sinks, nil
}
