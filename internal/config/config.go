package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	HTTPAddr        string
	Env             string // "development" or "production"
	StoreDriver     string
	DatabaseURL     string
	SQLitePath      string
	RedisURL        string
	CacheTTL        time.Duration
	JWTSecret       string
	JWTIssuer       string
	JWTTTL          time.Duration
	IdempotencyWait time.Duration
	SeedDemo        bool
}

func (c *Config) Production() bool {
	return c.Env == "production"
}

// Load reads .env when present, then the environment. All problems are
// reported together.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var errs []error
	cfg := &Config{
		HTTPAddr:    getEnvDefault("HTTP_ADDR", ":3001"),
		Env:         getEnvDefault("APP_ENV", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		SQLitePath:  getEnvDefault("SQLITE_PATH", "./market.db"),
		RedisURL:    os.Getenv("REDIS_URL"),
		JWTSecret:   os.Getenv("JWT_SECRET"),
		JWTIssuer:   getEnvDefault("JWT_ISSUER", "previsao"),
	}

	if cfg.Env != "development" && cfg.Env != "production" {
		errs = append(errs, fmt.Errorf("APP_ENV must be 'development' or 'production', got %q", cfg.Env))
	}

	defaultDriver := DriverMemory
	if cfg.DatabaseURL != "" {
		defaultDriver = DriverPostgres
	}
	cfg.StoreDriver = strings.ToLower(getEnvDefault("STORE_DRIVER", defaultDriver))
	switch cfg.StoreDriver {
	case DriverMemory, DriverSQLite:
	case DriverPostgres:
		if cfg.DatabaseURL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required when STORE_DRIVER=postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORE_DRIVER must be memory, postgres or sqlite, got %q", cfg.StoreDriver))
	}

	if cfg.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	cfg.CacheTTL = durationEnv("CACHE_TTL", 30*time.Second, &errs)
	cfg.JWTTTL = durationEnv("JWT_TTL", 24*time.Hour, &errs)
	cfg.IdempotencyWait = durationEnv("IDEMPOTENCY_WAIT", 5*time.Second, &errs)
	cfg.SeedDemo = boolEnv("SEED_DEMO", !cfg.Production(), &errs)

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func getEnvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func durationEnv(key string, def time.Duration, errs *[]error) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		*errs = append(*errs, fmt.Errorf("%s must be a positive duration, got %q", key, v))
		return def
	}
	return d
}

func boolEnv(key string, def bool, errs *[]error) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s must be a boolean, got %q", key, v))
		return def
	}
	return b
}
