package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_FILE", "")
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, Defaults().Server.Addr, cfg.Server.Addr)
	require.Equal(t, "@every 5m", cfg.Tenant.SweepSpec)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingestx.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  addr: ":8080"
ingest:
  workers: 3
  batch_timeout: 30s
tenant:
  sweep_spec: "@every 1m"
webhook:
  url: https://file.example.com/webhook
`), 0o600))

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("INGEST_WORKERS", "12")
	t.Setenv("TENANT_SWEEP_SPEC", "")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Server.Addr)
	require.Equal(t, 12, cfg.Ingest.Workers)
	require.Equal(t, 30*time.Second, cfg.Ingest.BatchTimeout)
	require.Equal(t, "https://file.example.com/webhook", cfg.Webhook.URL)
	require.Empty(t, cfg.Tenant.SweepSpec, "explicitly empty env disables the sweep")
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, "json", cfg.Log.Encoding)
}

func TestLoadRejectsBadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: ["), 0o600))
	t.Setenv("CONFIG_FILE", path)

	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())

	cfg.Postgres.URL = ""
	require.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Ingest.Workers = 0
	require.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.Log.Encoding = "logfmt"
	require.Error(t, cfg.Validate())
}
