package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("USER_AUTH_SECRET", "test-secret")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, StoreBackendMemory, cfg.StoreBackend)
	assert.Equal(t, 180*time.Second, cfg.PairingCodeTTL)
	assert.Equal(t, 1500*time.Millisecond, cfg.AckWait)
	assert.Equal(t, 100*time.Millisecond, cfg.AckPollInterval)
	assert.Equal(t, 60*time.Second, cfg.PendingHorizon)
	assert.Equal(t, 20, cfg.RateLimitPairPerMin)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("STORE_BACKEND", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/tvlink")
	t.Setenv("USER_AUTH_SECRET", "test-secret")
	t.Setenv("PORT", "9090")
	t.Setenv("ACK_WAIT", "2s")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("DEV_MODE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, 2*time.Second, cfg.AckWait)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr)
	assert.True(t, cfg.DevMode)
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"postgres without url", map[string]string{"STORE_BACKEND": "postgres", "DATABASE_URL": ""}},
		{"unknown backend", map[string]string{"STORE_BACKEND": "mongo"}},
		{"missing secret", map[string]string{"USER_AUTH_SECRET": ""}},
		{"poll not shorter than wait", map[string]string{"ACK_POLL_INTERVAL": "2s"}},
		{"horizon not longer than wait", map[string]string{"PENDING_HORIZON": "1s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("STORE_BACKEND", "memory")
			t.Setenv("USER_AUTH_SECRET", "test-secret")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
