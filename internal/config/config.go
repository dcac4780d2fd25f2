package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Environment     string
	Port            string
	DatabaseDriver  string
	DatabaseURL     string
	CatalogPath     string
	LogLevel        string
	AllowedOrigins  string
	SessionDuration time.Duration

	// TrustedProxies may set X-Forwarded-For. Empty means the socket peer
	// is always the client address.
	TrustedProxies []string

	// RosterSize is the exact number of characters a legal deck carries.
	RosterSize int

	// Requests allowed per RateLimitWindow, per client and operation.
	RateLimitCreate  int
	RateLimitMutate  int
	RateLimitRead    int
	RateLimitWindow  time.Duration
	DisableRateLimit bool
}

func Load() *Config {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &Config{
		Environment:      getEnv("ENVIRONMENT", "production"),
		Port:             getEnv("PORT", "8080"),
		DatabaseDriver:   getEnv("DATABASE_DRIVER", "sqlite3"),
		DatabaseURL:      getEnv("DATABASE_URL", "deckbuilder.db"),
		CatalogPath:      getEnv("CATALOG_PATH", "data/catalog.yaml"),
		LogLevel:         getEnv("LOG_LEVEL", "INFO"),
		AllowedOrigins:   getEnv("ALLOWED_ORIGINS", "http://localhost:8080"),
		SessionDuration:  getDurationEnv("SESSION_DURATION", 7*24*time.Hour),
		TrustedProxies:   getListEnv("TRUSTED_PROXIES"),
		RosterSize:       getIntEnv("ROSTER_SIZE", 4),
		RateLimitCreate:  getIntEnv("RATE_LIMIT_CREATE", 10),
		RateLimitMutate:  getIntEnv("RATE_LIMIT_MUTATE", 120),
		RateLimitRead:    getIntEnv("RATE_LIMIT_READ", 300),
		RateLimitWindow:  getDurationEnv("RATE_LIMIT_WINDOW", time.Minute),
		DisableRateLimit: getBoolEnv("DISABLE_RATE_LIMIT", false),
	}
	return cfg
}

func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Environment)
	return env == "development" || env == "dev"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getListEnv(key string) []string {
	var values []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			return parsed
		}
	}
	return defaultValue
}
