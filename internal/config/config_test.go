package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func validConfig() *Config {
	cfg := Load()
	cfg.JWTSecret = testSecret
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite", cfg.StoreType)
	assert.Equal(t, "0 8 * * *", cfg.CronSpec)
	assert.Equal(t, "./tokens", cfg.FallbackDir)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_TYPE", "redis")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("SMTP_USE_TLS", "false")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "redis", cfg.StoreType)
	assert.Equal(t, 3, cfg.RedisDB)
	assert.False(t, cfg.SMTPUseTLS)
}

func TestValidateRequiresJWTSecret(t *testing.T) {
	cfg := Load()
	cfg.JWTSecret = ""
	require.Error(t, cfg.Validate())

	cfg.JWTSecret = "short"
	require.Error(t, cfg.Validate())

	cfg.JWTSecret = testSecret
	assert.NoError(t, cfg.Validate())
}

func TestValidatePort(t *testing.T) {
	cfg := validConfig()
	cfg.Port = "not-a-port"
	assert.Error(t, cfg.Validate())

	cfg.Port = "70000"
	assert.Error(t, cfg.Validate())
}

func TestValidateStoreType(t *testing.T) {
	cfg := validConfig()
	cfg.StoreType = "mongodb"
	assert.Error(t, cfg.Validate())

	cfg.StoreType = "memory"
	assert.NoError(t, cfg.Validate())
}

func TestValidatePostgresRequirements(t *testing.T) {
	cfg := validConfig()
	cfg.StoreType = "postgres"
	cfg.PostgresHost = ""
	assert.Error(t, cfg.Validate())

	cfg.PostgresHost = "db.internal"
	cfg.PostgresDB = "warden"
	cfg.PostgresUser = "warden"
	assert.NoError(t, cfg.Validate())
}

func TestProviderCredentialsAreOptionalAtBoot(t *testing.T) {
	cfg := validConfig()
	cfg.ClientID = ""
	cfg.ClientSecret = ""
	assert.NoError(t, cfg.Validate())
}

func TestChannelFlags(t *testing.T) {
	cfg := validConfig()
	assert.False(t, cfg.SMTPEnabled())
	assert.False(t, cfg.SMSEnabled())

	cfg.SMTPHost = "smtp.example.com"
	cfg.SMTPFrom = "alerts@example.com"
	assert.True(t, cfg.SMTPEnabled())

	cfg.AWSRegion = "us-east-1"
	cfg.AlertPhone = "+5511999990000"
	assert.True(t, cfg.SMSEnabled())
}
