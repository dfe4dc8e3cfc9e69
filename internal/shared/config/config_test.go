package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "notifications:intents", cfg.Notify.QueueKey)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 8*time.Hour, cfg.Auth.TokenTTL)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("DB_ENABLED", "false")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("NOTIFY_TIMEOUT", "500ms")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("SEED_ADMIN_EMAIL", "admin@example.org")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Database.Enabled)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, 500*time.Millisecond, cfg.Notify.Timeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "admin@example.org", cfg.Seed.AdminEmail)
}

func TestLoadRejectsDevSecretInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "cases", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=cases sslmode=disable", d.DSN())
}
