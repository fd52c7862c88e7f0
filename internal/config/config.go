package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"
)

// Config holds the application configuration
type Config struct {
	Port         string
	StoreBackend string
	DatabaseURL  string
	DevMode      bool
	LogLevel     string

	// UserAuthSecret is the HS256 key shared with the user-identity authority.
	UserAuthSecret string

	PairingCodeTTL  time.Duration
	AckWait         time.Duration
	AckPollInterval time.Duration
	PendingHorizon  time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	FirebaseCredentialsFile string
	FirebaseProjectID       string

	RateLimitPairPerMin     int
	RateLimitRegisterPerMin int
}

// Load reads configuration from environment variables (after .env files have
// been merged into the environment by the caller).
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("PORT", "8080")
	v.SetDefault("STORE_BACKEND", StoreBackendPostgres)
	v.SetDefault("DEV_MODE", false)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PAIRING_CODE_TTL", "180s")
	v.SetDefault("ACK_WAIT", "1500ms")
	v.SetDefault("ACK_POLL_INTERVAL", "100ms")
	v.SetDefault("PENDING_HORIZON", "60s")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("RATE_LIMIT_PAIR_PER_MIN", 20)
	v.SetDefault("RATE_LIMIT_REGISTER_PER_MIN", 10)

	cfg := &Config{
		Port:                    v.GetString("PORT"),
		StoreBackend:            strings.ToLower(strings.TrimSpace(v.GetString("STORE_BACKEND"))),
		DatabaseURL:             v.GetString("DATABASE_URL"),
		DevMode:                 v.GetBool("DEV_MODE"),
		LogLevel:                v.GetString("LOG_LEVEL"),
		UserAuthSecret:          v.GetString("USER_AUTH_SECRET"),
		PairingCodeTTL:          v.GetDuration("PAIRING_CODE_TTL"),
		AckWait:                 v.GetDuration("ACK_WAIT"),
		AckPollInterval:         v.GetDuration("ACK_POLL_INTERVAL"),
		PendingHorizon:          v.GetDuration("PENDING_HORIZON"),
		RedisAddr:               v.GetString("REDIS_ADDR"),
		RedisPassword:           v.GetString("REDIS_PASSWORD"),
		RedisDB:                 v.GetInt("REDIS_DB"),
		FirebaseCredentialsFile: v.GetString("FIREBASE_CREDENTIALS_FILE"),
		FirebaseProjectID:       v.GetString("FIREBASE_PROJECT_ID"),
		RateLimitPairPerMin:     v.GetInt("RATE_LIMIT_PAIR_PER_MIN"),
		RateLimitRegisterPerMin: v.GetInt("RATE_LIMIT_REGISTER_PER_MIN"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreBackendPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required")
		}
	case StoreBackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND must be %q or %q, got %q", StoreBackendPostgres, StoreBackendMemory, c.StoreBackend)
	}

	if c.UserAuthSecret == "" {
		return fmt.Errorf("USER_AUTH_SECRET environment variable is required")
	}
	if c.PairingCodeTTL <= 0 {
		return fmt.Errorf("PAIRING_CODE_TTL must be positive")
	}
	if c.AckPollInterval <= 0 || c.AckPollInterval >= c.AckWait {
		return fmt.Errorf("ACK_POLL_INTERVAL (%v) must be positive and shorter than ACK_WAIT (%v)", c.AckPollInterval, c.AckWait)
	}
	if c.PendingHorizon <= c.AckWait {
		return fmt.Errorf("PENDING_HORIZON (%v) must be longer than ACK_WAIT (%v)", c.PendingHorizon, c.AckWait)
	}
	if c.RateLimitPairPerMin <= 0 || c.RateLimitRegisterPerMin <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}
	return nil
}
