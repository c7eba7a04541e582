package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, "info", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Format)
	require.Equal(t, "memory", cfg.Storage.Backend)
	require.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	require.Equal(t, 5*time.Minute, cfg.Cleanup.Interval)
	require.Equal(t, "X-Auth-User-ID", cfg.Session.UserHeader)
}

func TestLoadConfigFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9090"
log:
  level: debug
  format: text
storage:
  backend: postgres
  postgres:
    dsn: postgres://localhost:5432/connect
oauth:
  access_token_ttl: 600
rate_limit:
  requests_per_minute: 120
  burst: 20
`), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Listen)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "postgres", cfg.Storage.Backend)
	require.Equal(t, "postgres://localhost:5432/connect", cfg.Storage.Postgres.DSN)
	require.Equal(t, int64(600), cfg.OAuth.AccessTokenTTL)
	require.Equal(t, 120, cfg.RateLimit.RequestsPerMinute)
	// Unset values still get defaults.
	require.Equal(t, int64(0), cfg.OAuth.AuthorizationCodeTTL)
	require.Equal(t, 24*time.Hour, cfg.Cleanup.UsedCodeRetention)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("CONNECT_OAUTH_LISTEN", ":7070")
	t.Setenv("CONNECT_OAUTH_STORAGE_BACKEND", "redis")
	t.Setenv("CONNECT_OAUTH_REDIS_ADDR", "localhost:6379")
	t.Setenv("CONNECT_OAUTH_ACCESS_TOKEN_TTL", "1800")

	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, ":7070", cfg.Listen)
	require.Equal(t, "redis", cfg.Storage.Backend)
	require.Equal(t, "localhost:6379", cfg.Storage.Redis.Address)
	require.Equal(t, int64(1800), cfg.OAuth.AccessTokenTTL)
}

func TestLoadConfigValidation(t *testing.T) {
	t.Setenv("CONNECT_OAUTH_STORAGE_BACKEND", "postgres")
	_, err := LoadConfig("")
	require.Error(t, err, "postgres backend without DSN must fail")

	t.Setenv("CONNECT_OAUTH_STORAGE_BACKEND", "cassandra")
	_, err = LoadConfig("")
	require.Error(t, err, "unknown backend must fail")
}
