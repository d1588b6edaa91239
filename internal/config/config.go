// Package config provides configuration management for the token warden.
// Values are loaded from environment variables with sensible defaults and
// validated before the application starts.
//
// Environment Variables:
//
// Application:
//   - PORT: Server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - CRON_SPEC: Cron expression for the daily expiry check (default: "0 8 * * *")
//   - PUBLIC_BASE_URL: externally reachable base URL used in alert links
//
// Credential store:
//   - STORE_TYPE: "sqlite", "postgres", "redis" or "memory" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./token_warden.db)
//   - POSTGRES_HOST / POSTGRES_PORT / POSTGRES_DB / POSTGRES_USER /
//     POSTGRES_PASSWORD / POSTGRES_SSL_MODE: PostgreSQL settings
//   - REDIS_ADDRESS / REDIS_PASSWORD / REDIS_DB: Redis settings
//   - FALLBACK_DIR: directory for local token snapshots (default: ./tokens)
//
// OAuth provider:
//   - PROVIDER_CLIENT_ID / PROVIDER_CLIENT_SECRET: client credentials
//   - PROVIDER_TOKEN_URL: token endpoint
//   - PROVIDER_AUTH_URL: authorization endpoint shown to the operator
//   - PROVIDER_REDIRECT_URI: registered callback URL
//   - PROVIDER_API_BASE_URL: commerce API base for proxied calls
//
// Alerting:
//   - ALERT_EMAIL_TO / ALERT_PHONE_E164: operator contacts
//   - SMTP_HOST / SMTP_PORT / SMTP_USERNAME / SMTP_PASSWORD / SMTP_FROM /
//     SMTP_USE_TLS / SMTP_USE_SSL: email transport
//   - AWS_REGION / AWS_ACCESS_KEY_ID / AWS_SECRET_ACCESS_KEY: SNS SMS channel
//     (SMS degrades silently when absent)
//
// Security:
//   - JWT_SECRET: admin API token signing secret (required, min 32 chars)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds all configuration values for the token warden.
type Config struct {
	// Application settings
	Port          string
	LogLevel      string
	CronSpec      string
	PublicBaseURL string

	// Credential store
	StoreType        string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string
	RedisAddress     string
	RedisPassword    string
	RedisDB          int
	FallbackDir      string

	// OAuth provider
	ClientID     string
	ClientSecret string
	TokenURL     string
	AuthURL      string
	RedirectURI  string
	APIBaseURL   string

	// Alerting
	AlertEmailTo  string
	AlertPhone    string
	SMTPHost      string
	SMTPPort      string
	SMTPUsername  string
	SMTPPassword  string
	SMTPFrom      string
	SMTPFromName  string
	SMTPUseTLS    bool
	SMTPUseSSL    bool
	AWSRegion     string
	AWSAccessKey  string
	AWSSecretKey  string

	// Security
	JWTSecret string
}

// Load creates a Config from environment variables. It does not validate;
// call Validate on the result before use.
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		CronSpec:      getEnv("CRON_SPEC", "0 8 * * *"),
		PublicBaseURL: getEnv("PUBLIC_BASE_URL", ""),

		StoreType:        getEnv("STORE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./token_warden.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "token_warden"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),
		RedisAddress:     getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:    getEnv("REDIS_PASSWORD", ""),
		RedisDB:          getIntEnv("REDIS_DB", 0),
		FallbackDir:      getEnv("FALLBACK_DIR", "./tokens"),

		ClientID:     getEnv("PROVIDER_CLIENT_ID", ""),
		ClientSecret: getEnv("PROVIDER_CLIENT_SECRET", ""),
		TokenURL:     getEnv("PROVIDER_TOKEN_URL", ""),
		AuthURL:      getEnv("PROVIDER_AUTH_URL", ""),
		RedirectURI:  getEnv("PROVIDER_REDIRECT_URI", ""),
		APIBaseURL:   getEnv("PROVIDER_API_BASE_URL", ""),

		AlertEmailTo: getEnv("ALERT_EMAIL_TO", ""),
		AlertPhone:   getEnv("ALERT_PHONE_E164", ""),
		SMTPHost:     getEnv("SMTP_HOST", ""),
		SMTPPort:     getEnv("SMTP_PORT", "587"),
		SMTPUsername: getEnv("SMTP_USERNAME", ""),
		SMTPPassword: getEnv("SMTP_PASSWORD", ""),
		SMTPFrom:     getEnv("SMTP_FROM", ""),
		SMTPFromName: getEnv("SMTP_FROM_NAME", ""),
		SMTPUseTLS:   getBoolEnv("SMTP_USE_TLS", true),
		SMTPUseSSL:   getBoolEnv("SMTP_USE_SSL", false),
		AWSRegion:    getEnv("AWS_REGION", ""),
		AWSAccessKey: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey: getEnv("AWS_SECRET_ACCESS_KEY", ""),

		JWTSecret: getEnv("JWT_SECRET", ""),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// AuthorizeURL is the link placed in alerts for the operator to start a
// new authorization flow.
func (c *Config) AuthorizeURL() string {
	base := c.PublicBaseURL
	if base == "" {
		base = "http://localhost:" + c.Port
	}
	return strings.TrimRight(base, "/") + "/authorize"
}

// SMTPEnabled reports whether the email channel is configured.
func (c *Config) SMTPEnabled() bool {
	return c.SMTPHost != "" && c.SMTPFrom != ""
}

// SMSEnabled reports whether the SNS SMS channel is configured.
func (c *Config) SMSEnabled() bool {
	return c.AWSRegion != "" && c.AlertPhone != ""
}

// Validate checks required fields and cross-field dependencies. Provider
// client credentials are deliberately not required here: their absence is a
// per-operation ConfigurationError so the server can still serve the
// authorization bootstrap flow.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	switch c.StoreType {
	case "sqlite", "memory", "redis":
	case "postgres", "postgresql":
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	default:
		return fmt.Errorf("STORE_TYPE must be one of sqlite, postgres, redis, memory")
	}

	if c.RedisDB < 0 || c.RedisDB > 15 {
		return fmt.Errorf("REDIS_DB must be between 0 and 15")
	}

	return nil
}
