package authgate

import (
	"errors"
	"time"
)

// Config carries every recognized engine option. Instances are configured
// once, validated by Build, and treated as immutable afterwards.
type Config struct {
	Token     TokenConfig
	Session   SessionConfig
	RateLimit RateLimitConfig
	Password  PasswordConfig
	Audit     AuditConfig
}

// TokenConfig controls access-token issuance. Keys are Ed25519, raw bytes
// or PEM; they are parsed once at Build time.
type TokenConfig struct {
	AccessTTL  time.Duration
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Leeway     time.Duration
}

// SessionConfig controls the refresh-session store. TombstoneTTL is the
// replay-detection window left behind by each rotation; it should exceed
// any plausible client retry window but stay far below Lifetime.
type SessionConfig struct {
	RedisPrefix  string
	Lifetime     time.Duration
	TombstoneTTL time.Duration
}

// RateLimitConfig controls the failure budget. Soft limits throttle a
// window; LockoutThreshold (strictly above UserSoftLimit) escalates to a
// hard time-boxed lockout.
type RateLimitConfig struct {
	UserSoftLimit    int
	IPSoftLimit      int
	Window           time.Duration
	LockoutThreshold int
	LockoutDuration  time.Duration
}

// PasswordConfig carries the Argon2id cost parameters. UpgradeOnLogin
// enables the rehash write-back for hashes below current policy.
type PasswordConfig struct {
	Memory         uint32 // in KB
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	UpgradeOnLogin bool
}

// AuditConfig controls the async audit pipeline.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// DefaultConfig returns the baseline configuration. Signing keys have no
// sane default and must always be supplied.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			AccessTTL: 15 * time.Minute,
		},
		Session: SessionConfig{
			RedisPrefix:  "ag",
			Lifetime:     7 * 24 * time.Hour,
			TombstoneTTL: 10 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			UserSoftLimit:    5,
			IPSoftLimit:      20,
			Window:           15 * time.Minute,
			LockoutThreshold: 10,
			LockoutDuration:  30 * time.Minute,
		},
		Password: PasswordConfig{
			Memory:         65536,
			Time:           3,
			Parallelism:    2,
			SaltLength:     16,
			KeyLength:      32,
			UpgradeOnLogin: true,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

func validateConfig(c Config) error {
	if c.Token.AccessTTL <= 0 {
		return errors.New("token AccessTTL must be > 0")
	}
	if len(c.Token.PublicKey) == 0 {
		return errors.New("token PublicKey is required")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("session Lifetime must be > 0")
	}
	if c.Session.TombstoneTTL < time.Millisecond {
		return errors.New("session TombstoneTTL must be at least 1ms")
	}
	if c.Session.TombstoneTTL >= c.Session.Lifetime {
		return errors.New("session TombstoneTTL must be below the session Lifetime")
	}
	if c.RateLimit.UserSoftLimit <= 0 {
		return errors.New("rate-limit UserSoftLimit must be > 0")
	}
	if c.RateLimit.IPSoftLimit <= 0 {
		return errors.New("rate-limit IPSoftLimit must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return errors.New("rate-limit Window must be > 0")
	}
	if c.RateLimit.LockoutThreshold <= c.RateLimit.UserSoftLimit {
		return errors.New("rate-limit LockoutThreshold must be strictly above UserSoftLimit")
	}
	if c.RateLimit.LockoutDuration <= 0 {
		return errors.New("rate-limit LockoutDuration must be > 0")
	}
	if c.Password.Memory < 8*1024 {
		return errors.New("password Memory must be >= 8192 KB")
	}
	if c.Password.Time < 1 {
		return errors.New("password Time must be >= 1")
	}
	if c.Password.Parallelism < 1 {
		return errors.New("password Parallelism must be >= 1")
	}
	if c.Password.SaltLength < 16 {
		return errors.New("password SaltLength must be >= 16")
	}
	if c.Password.KeyLength < 16 {
		return errors.New("password KeyLength must be >= 16")
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 0 {
		return errors.New("audit BufferSize must be >= 0")
	}
	return nil
}
