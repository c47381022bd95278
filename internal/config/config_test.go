package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "8080", cfg.Server.Port)
	require.Equal(t, time.Hour, cfg.Session.TTL)
	require.Equal(t, time.Second, cfg.Client.PollInterval)
	require.Equal(t, 18*time.Millisecond, cfg.Client.TypingDelay)
	require.Equal(t, time.Hour, cfg.Client.StaleAfter)
	require.Empty(t, cfg.Redis.URL)
}

func TestLoad_FileAndEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := []byte(`
server:
  port: "9090"
redis:
  url: "redis://localhost:6379/0"
session:
  ttl: "30m"
client:
  poll_interval: "250ms"
`)
	require.NoError(t, os.WriteFile(path, yaml, 0o644))
	t.Setenv("RELAY_REDIS_TOKEN", "secret")
	t.Setenv("RELAY_SERVER_PORT", "7070")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "7070", cfg.Server.Port)
	require.Equal(t, "redis://localhost:6379/0", cfg.Redis.URL)
	require.Equal(t, "secret", cfg.Redis.Token)
	require.Equal(t, 30*time.Minute, cfg.Session.TTL)
	require.Equal(t, 250*time.Millisecond, cfg.Client.PollInterval)
}

func TestLoad_RejectsNonPositiveTTL(t *testing.T) {
	t.Setenv("RELAY_SESSION_TTL", "0s")
	_, err := Load("")
	require.Error(t, err)
}
