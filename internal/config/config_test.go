package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "does-not-exist.toml")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "interviewsim", cfg.App.Name)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTPAddr())
	assert.Equal(t, int64(10<<20), cfg.MaxUploadBytes())
	assert.Equal(t, "interview.message.events", cfg.RabbitMQ.BroadcastExchange)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CONFIG_FILE", "does-not-exist.toml")
	t.Setenv("APP_PORT", "9090")
	t.Setenv("LLM_MODEL", "test-model")
	t.Setenv("UPLOAD_MAX_SIZE_MB", "2")
	t.Setenv("RABBITMQ_BROADCAST_EXCHANGE", "test.exchange")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.App.Port)
	assert.Equal(t, "test-model", cfg.LLM.Model)
	assert.Equal(t, int64(2<<20), cfg.MaxUploadBytes())
	assert.Equal(t, "test.exchange", cfg.RabbitMQ.BroadcastExchange)
}

func TestEnvOverrideIgnoresBadInt(t *testing.T) {
	t.Setenv("CONFIG_FILE", "does-not-exist.toml")
	t.Setenv("APP_PORT", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.App.Port)
}

func TestMySQLDSN(t *testing.T) {
	cfg := defaultConfig()
	cfg.MySQL.User = "app"
	cfg.MySQL.Password = "secret"
	cfg.MySQL.Host = "db.internal"
	cfg.MySQL.Port = 3307
	cfg.MySQL.DB = "interviews"
	cfg.MySQL.Params = "parseTime=true"

	assert.Equal(t, "app:secret@tcp(db.internal:3307)/interviews?parseTime=true", cfg.MySQLDSN())
}
