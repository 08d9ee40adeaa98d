package authgate

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig(t *testing.T) Config {
	t.Helper()

	pub, _, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Token.PublicKey = pub
	return cfg
}

func TestDefaultConfigValidatesWithKeys(t *testing.T) {
	cfg := validTestConfig(t)
	require.NoError(t, validateConfig(cfg))
}

func TestValidateConfigRejections(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "missing public key",
			mutate:  func(c *Config) { c.Token.PublicKey = nil },
			wantMsg: "PublicKey",
		},
		{
			name:    "zero access TTL",
			mutate:  func(c *Config) { c.Token.AccessTTL = 0 },
			wantMsg: "AccessTTL",
		},
		{
			name:    "tombstone outlives session",
			mutate:  func(c *Config) { c.Session.TombstoneTTL = c.Session.Lifetime },
			wantMsg: "TombstoneTTL",
		},
		{
			name:    "sub-millisecond tombstone",
			mutate:  func(c *Config) { c.Session.TombstoneTTL = 500 * time.Microsecond },
			wantMsg: "TombstoneTTL",
		},
		{
			name: "lockout threshold not above soft limit",
			mutate: func(c *Config) {
				c.RateLimit.LockoutThreshold = c.RateLimit.UserSoftLimit
			},
			wantMsg: "LockoutThreshold",
		},
		{
			name:    "zero lockout duration",
			mutate:  func(c *Config) { c.RateLimit.LockoutDuration = 0 },
			wantMsg: "LockoutDuration",
		},
		{
			name:    "argon memory below floor",
			mutate:  func(c *Config) { c.Password.Memory = 1024 },
			wantMsg: "Memory",
		},
		{
			name:    "short salt",
			mutate:  func(c *Config) { c.Password.SaltLength = 8 },
			wantMsg: "SaltLength",
		},
		{
			name:    "zero window",
			mutate:  func(c *Config) { c.RateLimit.Window = 0 },
			wantMsg: "Window",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig(t)
			tt.mutate(&cfg)
			err := validateConfig(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestDefaultConfigShape(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 15*time.Minute, cfg.Token.AccessTTL)
	assert.Equal(t, 7*24*time.Hour, cfg.Session.Lifetime)
	assert.Less(t, cfg.Session.TombstoneTTL, cfg.Session.Lifetime)
	assert.Greater(t, cfg.RateLimit.LockoutThreshold, cfg.RateLimit.UserSoftLimit)
	assert.True(t, cfg.Password.UpgradeOnLogin)
	assert.True(t, cfg.Audit.Enabled)
}
