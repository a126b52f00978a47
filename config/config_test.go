package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{"PORT", "DB_DRIVER", "SWEEP_INTERVAL", "STORE_TIMEOUT", "WS_TRUST_CLIENT_IDENTITY", "REDIS_ADDR"} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "3000", cfg.Port)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, 60*time.Second, cfg.SweepInterval)
	assert.Equal(t, 5*time.Second, cfg.StoreTimeout)
	assert.False(t, cfg.TrustClientIdentity)
	assert.Empty(t, cfg.RedisAddr)
	require.NoError(t, cfg.Validate())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "8080")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("SWEEP_INTERVAL", "15s")
	t.Setenv("WS_TRUST_CLIENT_IDENTITY", "true")
	t.Setenv("WS_SEND_BUFFER", "not-a-number")
	t.Setenv("WS_MESSAGE_RATE", "2.5")

	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, 15*time.Second, cfg.SweepInterval)
	assert.True(t, cfg.TrustClientIdentity)
	assert.Equal(t, 64, cfg.SendBuffer, "invalid ints fall back to the default")
	assert.Equal(t, 2.5, cfg.MessageRate)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"unknown driver", func(c *Config) { c.DBDriver = "mysql" }, true},
		{"empty secret", func(c *Config) { c.JWTSecret = "" }, true},
		{"dev secret in production", func(c *Config) { c.Env = "production" }, true},
		{"production with secret", func(c *Config) {
			c.Env = "production"
			c.JWTSecret = "a-real-secret"
		}, false},
		{"zero sweep interval", func(c *Config) { c.SweepInterval = 0 }, true},
		{"negative message rate", func(c *Config) { c.MessageRate = -1 }, true},
		{"rate limit disabled", func(c *Config) { c.MessageRate = 0 }, false},
		{"ping slower than read timeout", func(c *Config) { c.PingInterval = c.ReadTimeout }, true},
		{"read timeout disabled", func(c *Config) { c.ReadTimeout = 0 }, false},
		{"read timeout and ping disabled", func(c *Config) {
			c.ReadTimeout = 0
			c.PingInterval = 0
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("ENV", "")
			t.Setenv("JWT_SECRET", "")
			t.Setenv("DB_DRIVER", "")
			cfg := Load()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
