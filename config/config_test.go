package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	viper.Reset()
	path := writeConfig(t, "cluster:\n  name: local\n")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Cluster.Name)
	assert.Equal(t, "localhost", cfg.Cluster.ControlHost)
	assert.Equal(t, 6817, cfg.Cluster.ControlPort)
	assert.Equal(t, 5*time.Second, cfg.Federation.PingInterval)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.DebugFederation)
}

func TestLoadConfigOverrides(t *testing.T) {
	viper.Reset()
	path := writeConfig(t, `cluster:
  name: clusterA
  control_port: 7000
federation:
  ping_interval: 250ms
logging:
  debug_federation: true
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "clusterA", cfg.Cluster.Name)
	assert.Equal(t, 7000, cfg.Cluster.ControlPort)
	assert.Equal(t, 250*time.Millisecond, cfg.Federation.PingInterval)
	assert.True(t, cfg.Logging.DebugFederation)
}

func TestLoadConfigRequiresClusterName(t *testing.T) {
	viper.Reset()
	path := writeConfig(t, "logging:\n  level: debug\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cluster.name")
}

func TestLoadConfigRejectsBadPort(t *testing.T) {
	viper.Reset()
	path := writeConfig(t, "cluster:\n  name: local\n  control_port: 70000\n")

	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "control_port")
}
