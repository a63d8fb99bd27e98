package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Environment        string
	ServerPort         int
	LogLevel           string
	CORSAllowedOrigins []string

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RedisURL string

	JWTSecret       string
	JWTIssuer       string
	LoginTokenTTL   time.Duration
	RefreshTokenTTL time.Duration

	AccessKeyPrefix    string
	CodeGenMaxAttempts int
	DefaultRenewMonths int

	ReportTimezone *time.Location
	ReportCacheTTL time.Duration

	RateLimitPerMinute int

	LiveFeedEnabled bool
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	port, err := strconv.Atoi(getEnv("SERVER_PORT", "8080"))
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, fmt.Errorf("invalid DB_PORT: %w", err)
	}

	loginTTL, err := parseDurationEnv("LOGIN_TOKEN_TTL", 7*24*time.Hour)
	if err != nil {
		return nil, err
	}

	refreshTTL, err := parseDurationEnv("REFRESH_TOKEN_TTL", 8*time.Hour)
	if err != nil {
		return nil, err
	}

	cacheTTL, err := parseDurationEnv("REPORT_CACHE_TTL", 60*time.Second)
	if err != nil {
		return nil, err
	}

	codeAttempts, err := strconv.Atoi(getEnv("CODE_GEN_MAX_ATTEMPTS", "5"))
	if err != nil {
		return nil, fmt.Errorf("invalid CODE_GEN_MAX_ATTEMPTS: %w", err)
	}

	renewMonths, err := strconv.Atoi(getEnv("DEFAULT_RENEW_MONTHS", "12"))
	if err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_RENEW_MONTHS: %w", err)
	}

	rateLimit, err := strconv.Atoi(getEnv("RATE_LIMIT_PER_MINUTE", "300"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_PER_MINUTE: %w", err)
	}

	// Report bucketing follows the local calendar of the deployment, not UTC.
	tz, err := time.LoadLocation(getEnv("REPORT_TIMEZONE", "Local"))
	if err != nil {
		return nil, fmt.Errorf("invalid REPORT_TIMEZONE: %w", err)
	}

	liveFeed, err := strconv.ParseBool(getEnv("LIVE_FEED_ENABLED", "true"))
	if err != nil {
		return nil, fmt.Errorf("invalid LIVE_FEED_ENABLED: %w", err)
	}

	return &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  port,
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSAllowedOrigins: parseCSVEnv("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:5173",
			"http://localhost:3000",
		}),
		DBHost:             getEnv("DB_HOST", "localhost"),
		DBPort:             dbPort,
		DBUser:             getEnv("DB_USER", "valetgate"),
		DBPassword:         getEnv("DB_PASSWORD", "dev"),
		DBName:             getEnv("DB_NAME", "valetgate"),
		DBSSLMode:          getEnv("DB_SSLMODE", "disable"),
		RedisURL:           getEnv("REDIS_URL", "redis://localhost:6379"),
		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTIssuer:          getEnv("JWT_ISSUER", "valetgate"),
		LoginTokenTTL:      loginTTL,
		RefreshTokenTTL:    refreshTTL,
		AccessKeyPrefix:    getEnv("ACCESS_KEY_PREFIX", "VALET"),
		CodeGenMaxAttempts: codeAttempts,
		DefaultRenewMonths: renewMonths,
		ReportTimezone:     tz,
		ReportCacheTTL:     cacheTTL,
		RateLimitPerMinute: rateLimit,
		LiveFeedEnabled:    liveFeed,
	}, nil
}

// IsProduction reports whether the service runs in the production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationEnv(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseCSVEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
