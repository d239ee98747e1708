package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadServerConfigYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "server.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
listen: ":9000"
redis_addr: "redis:6379"
seed:
  - username: root
    password: pw
    roles: [admin]
sms:
  endpoint: "https://sms.example.com/send"
  rate_per_second: 2
  timeout: 3s
auth:
  jwt:
    access_ttl: 5m
  security:
    max_login_attempts: 3
`), 0o600))
	t.Setenv("AUTHCORE_JWT_SECRET", "0123456789abcdef0123456789abcdef")
	t.Setenv(envSMSPass, "sms-secret")

	cfg, err := loadServerConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":9000", cfg.Listen)
	require.Equal(t, "redis:6379", cfg.RedisAddr)
	require.Equal(t, 30*time.Second, cfg.ShutdownTimeout)
	require.Len(t, cfg.Seed, 1)
	require.Equal(t, []string{"admin"}, cfg.Seed[0].Roles)
	require.Equal(t, 3*time.Second, cfg.SMS.Timeout)
	require.Equal(t, "sms-secret", cfg.SMS.Password)
	require.Equal(t, 5*time.Minute, cfg.Auth.JWT.AccessTTL)
	require.Equal(t, 7*24*time.Hour, cfg.Auth.JWT.RefreshTTL)
	require.Equal(t, 3, cfg.Auth.Security.MaxLoginAttempts)
	require.NoError(t, cfg.Auth.Validate())
}

func TestLoadServerConfigWithoutFile(t *testing.T) {
	t.Setenv(envRedisAddr, "cache:6380")
	cfg, err := loadServerConfig("")
	require.NoError(t, err)
	require.Equal(t, "cache:6380", cfg.RedisAddr)
	require.Equal(t, ":8080", cfg.Listen)
}
