package authgate

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/cobaltlabs/authgate/password"
	"github.com/cobaltlabs/authgate/rate"
	"github.com/cobaltlabs/authgate/session"
	"github.com/cobaltlabs/authgate/token"
)

// Builder assembles an [Engine]. Redis and the user directory are
// required; everything else has defaults.
type Builder struct {
	config    Config
	redis     redis.UniversalClient
	directory UserDirectory
	auditSink AuditSink
	logger    *slog.Logger
	built     bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithRedis sets the shared key-value store client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory sets the external user directory.
func (b *Builder) WithDirectory(dir UserDirectory) *Builder {
	b.directory = dir
	return b
}

// WithAuditSink sets the audit event destination.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithLogger sets the structured logger. Without one the engine logs
// nowhere.
func (b *Builder) WithLogger(logger *slog.Logger) *Builder {
	b.logger = logger
	return b
}

// Build validates the configuration, constructs every component, and
// returns a ready [Engine]. A Builder can build at most once.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, fmt.Errorf("%w: builder already used", ErrEngineNotReady)
	}
	if b.redis == nil {
		return nil, fmt.Errorf("%w: redis client is required", ErrEngineNotReady)
	}
	if b.directory == nil {
		return nil, fmt.Errorf("%w: user directory is required", ErrEngineNotReady)
	}
	if err := validateConfig(b.config); err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      b.config.Password.Memory,
		Time:        b.config.Password.Time,
		Parallelism: b.config.Password.Parallelism,
		SaltLength:  b.config.Password.SaltLength,
		KeyLength:   b.config.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	issuer, err := token.NewIssuer(token.Config{
		AccessTTL:  b.config.Token.AccessTTL,
		PrivateKey: b.config.Token.PrivateKey,
		PublicKey:  b.config.Token.PublicKey,
		Issuer:     b.config.Token.Issuer,
		Leeway:     b.config.Token.Leeway,
	})
	if err != nil {
		return nil, err
	}

	sessions, err := session.NewStore(
		b.redis,
		b.config.Session.RedisPrefix,
		b.config.Session.Lifetime,
		b.config.Session.TombstoneTTL,
	)
	if err != nil {
		return nil, err
	}

	guard, err := rate.NewGuard(b.redis, rate.Config{
		Prefix:           b.config.Session.RedisPrefix,
		UserSoftLimit:    b.config.RateLimit.UserSoftLimit,
		IPSoftLimit:      b.config.RateLimit.IPSoftLimit,
		Window:           b.config.RateLimit.Window,
		LockoutThreshold: b.config.RateLimit.LockoutThreshold,
		LockoutDuration:  b.config.RateLimit.LockoutDuration,
	})
	if err != nil {
		return nil, err
	}

	// Hash of a throwaway value, verified against when the username does
	// not resolve, so absent-user and wrong-password answers cost the same.
	dummyHash, err := hasher.Hash(uuid.NewString())
	if err != nil {
		return nil, err
	}

	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	b.built = true

	return &Engine{
		config:    b.config,
		directory: b.directory,
		hasher:    hasher,
		issuer:    issuer,
		sessions:  sessions,
		guard:     guard,
		audit:     newAuditDispatcher(b.config.Audit, b.auditSink),
		metrics:   newMetrics(),
		logger:    logger,
		dummyHash: dummyHash,
	}, nil
}
