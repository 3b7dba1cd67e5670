package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LISTEN_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.ListenAddr)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 30*24*time.Hour, cfg.Friend.RequestTTL)
	assert.False(t, cfg.Matching.ApplyPreferences)
	assert.NotEmpty(t, cfg.ServerName)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("LISTEN_ADDR", ":9090")
	t.Setenv("WORKER_POOL_SIZE", "32")
	t.Setenv("READ_TIMEOUT", "3s")
	t.Setenv("MATCH_APPLY_PREFERENCES", "true")
	t.Setenv("FRIEND_REQUEST_TTL", "48h")
	t.Setenv("FRIEND_JANITOR_EVERY", "10m")
	t.Setenv("MINIO_BUCKET", "media")
	t.Setenv("HEARTBEAT_INTERVAL", "15s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.ListenAddr)
	assert.Equal(t, 32, cfg.Server.WorkerPoolSize)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Matching.ApplyPreferences)
	assert.Equal(t, 48*time.Hour, cfg.Friend.RequestTTL)
	assert.Equal(t, 10*time.Minute, cfg.Friend.JanitorEvery)
	assert.Equal(t, "media", cfg.Media.Bucket)
	assert.Equal(t, 15*time.Second, cfg.Server.Heartbeat.Interval)
	assert.Equal(t, 10*time.Second, cfg.Server.Heartbeat.Timeout)
}

func TestLoad_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("WORKER_POOL_SIZE", "-4")
	t.Setenv("READ_TIMEOUT", "soon")
	t.Setenv("AUTO_MIGRATE", "maybe")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Server.WorkerPoolSize)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Database.AutoMigrate)
}

func TestLoad_ProductionRequiresSecrets(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	require.Error(t, err)

	t.Setenv("DATABASE_URL", "postgres://u:p@db/chat")
	_, err = Load()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "s3cret", cfg.Auth.JWTSecret)
}
