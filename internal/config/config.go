package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppName         = "DEERegistry"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultCooldown        = 60 * time.Second
	defaultMaxPageSize     = 100
	defaultEventStream     = "dee:events"
	defaultOwnerAddress    = "0x0000000000000000000000000000000000000001"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"
	cooldownSecondsEnvVar  = "RATE_LIMIT_COOLDOWN_SECONDS"
	cooldownDurEnvVar      = "RATE_LIMIT_COOLDOWN"
)

// Hash policies accepted by HASH_POLICY.
const (
	HashPolicyLenient = "lenient"
	HashPolicyStrict  = "strict"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	JWTSecret      string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	// OwnerAddress is the deployer of both the registry and the credential ledger.
	OwnerAddress string
	// RateLimitCooldown is the minimum spacing between mutating registry calls per actor.
	RateLimitCooldown time.Duration
	// RateLimitDeactivate subjects deactivateDID to the cooldown.
	RateLimitDeactivate bool
	HashPolicy          string
	MaxPageSize         int
	StartPaused         bool
	CredentialBaseURI   string
	EventStream         string
}

// Load reads configuration values from the environment and populates a Config instance.
// A .env file in the working directory is loaded first when present.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		AppName:             getEnv("APP_NAME", defaultAppName),
		AppEnv:              getEnv("APP_ENV", defaultAppEnv),
		Port:                getEnv("PORT", defaultPort),
		LogLevel:            strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		JWTSecret:           os.Getenv("JWT_SECRET"),
		ShutdownPeriod:      defaultShutdownDelay,
		IdempotencyTTL:      defaultIdempotencyTTL,
		OwnerAddress:        strings.TrimSpace(os.Getenv("OWNER_ADDRESS")),
		RateLimitCooldown:   defaultCooldown,
		RateLimitDeactivate: true,
		HashPolicy:          strings.ToLower(getEnv("HASH_POLICY", HashPolicyLenient)),
		MaxPageSize:         defaultMaxPageSize,
		CredentialBaseURI:   os.Getenv("CREDENTIAL_BASE_URI"),
		EventStream:         getEnv("EVENT_STREAM", defaultEventStream),
	}

	var err error
	if cfg.ShutdownPeriod, err = getDuration(shutdownSecondsEnvVar, shutdownDurationEnvVar, cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = getDuration(idemTTLSecondsEnvVar, idemTTLDurEnvVar, cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitCooldown, err = getDuration(cooldownSecondsEnvVar, cooldownDurEnvVar, cfg.RateLimitCooldown); err != nil {
		return Config{}, err
	}
	if cfg.RateLimitDeactivate, err = getBool("RATE_LIMIT_DEACTIVATE", cfg.RateLimitDeactivate); err != nil {
		return Config{}, err
	}
	if cfg.StartPaused, err = getBool("START_PAUSED", false); err != nil {
		return Config{}, err
	}
	if v := os.Getenv("MAX_PAGE_SIZE"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return Config{}, fmt.Errorf("invalid MAX_PAGE_SIZE %q", v)
		}
		cfg.MaxPageSize = n
	}

	switch cfg.HashPolicy {
	case HashPolicyLenient, HashPolicyStrict:
	default:
		return Config{}, fmt.Errorf("invalid HASH_POLICY %q", cfg.HashPolicy)
	}

	if cfg.RateLimitCooldown < 0 {
		return Config{}, fmt.Errorf("rate limit cooldown must not be negative")
	}

	if !cfg.IsDev() {
		if cfg.OwnerAddress == "" {
			return Config{}, fmt.Errorf("OWNER_ADDRESS must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set when APP_ENV=%s", cfg.AppEnv)
		}
		if cfg.JWTSecret == "" {
			return Config{}, fmt.Errorf("JWT_SECRET must be set when APP_ENV=%s", cfg.AppEnv)
		}
	}

	if cfg.OwnerAddress == "" {
		cfg.OwnerAddress = defaultOwnerAddress
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether in-memory backends may stand in for Postgres and Redis.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

// getDuration prefers the integer-seconds variable and falls back to the
// Go-duration variable.
func getDuration(secondsKey, durationKey string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(secondsKey); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", secondsKey, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(durationKey); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", durationKey, err)
		}
		return d, nil
	}
	return fallback, nil
}
