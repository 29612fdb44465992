package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0", cfg.Host)
	require.Equal(t, 5000, cfg.Port)
	require.Equal(t, "endpoints", cfg.EndpointsDir)
	require.Equal(t, "logs", cfg.LogsDir)
	require.Equal(t, "info", cfg.LogLevel)
	require.Equal(t, "data/history.db", cfg.HistoryDB)
	require.Equal(t, "0.0.0.0:5000", cfg.ListenAddr())
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "agent.yaml")
	raw := `
name: office-box
host: 127.0.0.1
port: 8080
endpoints_dir: /etc/lanagent/endpoints
auth:
  username: admin
  password: secret
  session_ttl: 30m
allowed_commands: [systemctl, journalctl]
`
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "office-box", cfg.Name)
	require.Equal(t, "127.0.0.1:8080", cfg.ListenAddr())
	require.Equal(t, "/etc/lanagent/endpoints", cfg.EndpointsDir)
	require.Equal(t, "admin", cfg.Auth.Username)
	require.Equal(t, 30*time.Minute, cfg.Auth.SessionTTL)
	require.Equal(t, []string{"systemctl", "journalctl"}, cfg.AllowedCommands)
}

func TestLoadMissingFileFallsBack(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, 5000, cfg.Port)
}

func TestLoadMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "agent.yaml")
	require.NoError(t, os.WriteFile(path, []byte("port: [not a port"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LANAGENT_NAME", "env-agent")
	t.Setenv("LANAGENT_PORT", "9100")
	t.Setenv("LANAGENT_USERNAME", "ops")
	t.Setenv("LANAGENT_PASSWORD", "pw")
	t.Setenv("LANAGENT_SESSION_TTL", "1h")

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "env-agent", cfg.Name)
	require.Equal(t, 9100, cfg.Port)
	require.Equal(t, "ops", cfg.Auth.Username)
	require.Equal(t, "pw", cfg.Auth.Password)
	require.Equal(t, time.Hour, cfg.Auth.SessionTTL)
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())

	cfg.Port = 70000
	require.Error(t, cfg.Validate())

	cfg.Port = 5000
	cfg.Auth.SessionTTL = -time.Minute
	require.Error(t, cfg.Validate())
}
