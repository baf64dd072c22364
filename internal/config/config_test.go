package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
nodes:
  - name: node1
    url: http://localhost:9181/api/v0
  - name: node2
    url: http://localhost:9182/api/v0
verify:
  interval: 250ms
logging:
  level: debug
`

func TestLoadConfigMergesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "peersync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.Len(t, cfg.Nodes, 2)
	n, ok := cfg.Node("node2")
	require.True(t, ok)
	require.Equal(t, "http://localhost:9182/api/v0", n.URL)

	require.Equal(t, 250*time.Millisecond, cfg.Verify.IntervalDuration())
	require.Equal(t, 10*time.Second, cfg.Verify.BudgetDuration())
	require.Equal(t, "debug", cfg.Logging.Level)
	require.Equal(t, LogFormatConsole, cfg.Logging.Format)
	require.Equal(t, 30*time.Second, cfg.Sync.TimeoutDuration())
	require.Equal(t, "/peersync/nodes", cfg.Discovery.Prefix)
}

func TestLoadConfigWithoutFile(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, cfg.HTTP.TimeoutDuration())
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "failed to read config file")
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("verify:\n  interval: nope\n"), 0o600))
	_, err := LoadConfig(path)
	require.ErrorContains(t, err, "config validation failed")
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvNodes:       "a=http://a:9181/api/v0, b=http://b:9181/api/v0",
		EnvLogLevel:    "warn",
		EnvHTTPTimeout: "3s",
		EnvEtcd:        "http://etcd-0:2379,http://etcd-1:2379",
	}
	cfg := Default()
	cfg.Nodes = []NodeConfig{{Name: "old", URL: "http://old"}}
	require.NoError(t, cfg.applyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}))

	require.Equal(t, []NodeConfig{
		{Name: "a", URL: "http://a:9181/api/v0"},
		{Name: "b", URL: "http://b:9181/api/v0"},
	}, cfg.Nodes)
	require.Equal(t, "warn", cfg.Logging.Level)
	require.Equal(t, 3*time.Second, cfg.HTTP.TimeoutDuration())
	require.Equal(t, []string{"http://etcd-0:2379", "http://etcd-1:2379"}, cfg.Discovery.Endpoints)
}

func TestParseNodesRejectsMalformed(t *testing.T) {
	_, err := ParseNodes("a=http://a,b")
	require.ErrorContains(t, err, `invalid node "b"`)
}
