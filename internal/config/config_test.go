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

func TestLoad_WithValidConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	cfg := `{
		"logLevel": "debug",
		"engine": { "maxRetries": 5, "retryInterval": "10s" },
		"relay": { "url": "http://relay.coastguard.local:9000" }
	}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(cfg), 0644))

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "debug", viper.GetString("logLevel"))
	assert.Equal(t, 5, viper.GetInt("engine.maxRetries"))
	assert.Equal(t, 10*time.Second, viper.GetDuration("engine.retryInterval"))
	assert.Equal(t, "http://relay.coastguard.local:9000", viper.GetString("relay.url"))
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte(`{}`), 0644))

	err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "info", viper.GetString("logLevel"))
	assert.Equal(t, "./beaconlogs", viper.GetString("logsDir"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("engine.retryInterval"))
	assert.Equal(t, 10*time.Second, viper.GetDuration("engine.probeInterval"))
	assert.Equal(t, 20, viper.GetInt("engine.maxRetries"))
	assert.Equal(t, 15*time.Second, viper.GetDuration("monitor.interval"))
	assert.Equal(t, 5*time.Second, viper.GetDuration("monitor.timeout"))
	assert.Equal(t, true, viper.GetBool("channels.internet.enabled"))
	assert.Equal(t, 0.7, viper.GetFloat64("channels.satellite.signalRate"))
	assert.Equal(t, "419000000", viper.GetString("channels.ais.mmsi"))
	assert.Equal(t, "http://localhost:8021", viper.GetString("relay.url"))
	assert.Equal(t, ":8021", viper.GetString("server.listenAddr"))
	assert.Equal(t, "gorm", viper.GetString("store.type"))
	assert.Equal(t, 100, viper.GetInt("store.historyLimit"))
	assert.Equal(t, "localhost", viper.GetString("db.host"))
	assert.Equal(t, "beacon", viper.GetString("db.database"))
	assert.Equal(t, false, viper.GetBool("influx.enabled"))
	assert.Equal(t, false, viper.GetBool("graylog.enabled"))
}

func TestLoad_MissingConfigFile(t *testing.T) {
	t.Cleanup(viper.Reset)

	err := Load(t.TempDir())
	require.Error(t, err)
}

func TestGetHelpers(t *testing.T) {
	t.Cleanup(viper.Reset)

	viper.Set("logLevel", "warn")
	viper.Set("engine.maxRetries", 7)
	viper.Set("channels.internet.enabled", true)
	viper.Set("channels.satellite.successRate", 0.5)
	viper.Set("monitor.timeout", "2s")

	assert.Equal(t, "warn", GetString("logLevel"))
	assert.Equal(t, 7, GetInt("engine.maxRetries"))
	assert.Equal(t, true, GetBool("channels.internet.enabled"))
	assert.Equal(t, 0.5, GetFloat("channels.satellite.successRate"))
	assert.Equal(t, 2*time.Second, GetDuration("monitor.timeout"))
}
