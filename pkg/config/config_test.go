package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadEffectiveFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
client:
  api_base: http://localhost:9000
  ws_url: ws://localhost:9000/ws
  project_id: p1
  reconnect_delay: 5s
stub:
  port: 9000
  max_body_size: 2MB
retention:
  enabled: true
  cron: "*/5 * * * *"
  period: 48h
`), 0o644))

	eff, err := LoadEffective(path)
	require.NoError(t, err)
	require.Equal(t, "config", eff.Source)
	require.Equal(t, "http://localhost:9000", eff.Config.Client.APIBase)
	require.Equal(t, 5*time.Second, eff.Config.Client.ReconnectDelayOr(time.Second))
	require.Equal(t, int64(2*1000*1000), eff.Config.Stub.MaxBodyBytes())
	require.Equal(t, 48*time.Hour, eff.Config.Retention.PeriodOr(time.Hour))
	require.Equal(t, ":9000", eff.Config.Addr())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TERRACHAT_API_BASE", "http://example:8081")
	t.Setenv("TERRACHAT_HISTORY_LIMIT", "10")

	eff, err := LoadEffective(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	require.Equal(t, "env", eff.Source)
	require.Equal(t, "http://example:8081", eff.Config.Client.APIBase)
	require.Equal(t, 10, eff.Config.Client.HistoryLimit)
}

func TestDefaultsWhenUnset(t *testing.T) {
	eff, err := LoadEffective("")
	require.NoError(t, err)
	require.Equal(t, "defaults", eff.Source)
	require.Equal(t, time.Second, eff.Config.Client.ReconnectDelayOr(time.Second))
	require.Equal(t, int64(1<<20), eff.Config.Stub.MaxBodyBytes())
}
