package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// ConfigFileName is the JSON config file looked up in the config directory.
// Both beacond and relayd share one file; each daemon reads the sections
// it cares about.
const ConfigFileName = "beacon.cfg.json"

// Load reads configuration from the JSON file in configDir and sets
// default values.
func Load(configDir string) error {
	// Set default values
	viper.SetDefault("logLevel", "info")
	viper.SetDefault("logsDir", "./beaconlogs")

	// vessel-side delivery engine
	viper.SetDefault("engine.retryInterval", "30s")
	viper.SetDefault("engine.probeInterval", "10s")
	viper.SetDefault("engine.maxRetries", 20)
	viper.SetDefault("engine.eventBuffer", 64)

	// connectivity monitor
	viper.SetDefault("monitor.heartbeatUrl", "https://httpbin.org/status/200")
	viper.SetDefault("monitor.interval", "15s")
	viper.SetDefault("monitor.timeout", "5s")
	viper.SetDefault("monitor.degradedLatency", "5s")

	// channels
	viper.SetDefault("channels.internet.enabled", true)
	viper.SetDefault("channels.internet.probeTimeout", "3s")
	viper.SetDefault("channels.internet.transmitTimeout", "8s")
	viper.SetDefault("channels.satellite.enabled", true)
	viper.SetDefault("channels.satellite.signalRate", 0.7)
	viper.SetDefault("channels.satellite.successRate", 0.85)
	viper.SetDefault("channels.satellite.transmitDelay", "3s")
	viper.SetDefault("channels.satellite.transmitTimeout", "10s")
	viper.SetDefault("channels.ais.enabled", true)
	viper.SetDefault("channels.ais.successRate", 0.95)
	viper.SetDefault("channels.ais.mmsi", "419000000")

	// vessel-local control surface (wheelhouse UI)
	viper.SetDefault("control.listenAddr", "127.0.0.1:8022")

	viper.SetDefault("vessel.actorId", "")
	viper.SetDefault("vessel.name", "")
	viper.SetDefault("vessel.boatNumber", "")
	viper.SetDefault("vessel.phone", "")

	// relay endpoints (the internet channel posts to relay.url)
	viper.SetDefault("relay.url", "http://localhost:8021")
	viper.SetDefault("relay.wsUrl", "ws://localhost:8021/ws")
	viper.SetDefault("relay.secret", "")

	// relayd HTTP server
	viper.SetDefault("server.listenAddr", ":8021")

	// persistent queue store
	viper.SetDefault("store.type", "gorm")
	viper.SetDefault("store.sqlitePath", "./beacon.db")
	viper.SetDefault("store.historyLimit", 100)

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.username", "postgres")
	viper.SetDefault("db.password", "postgres")
	viper.SetDefault("db.database", "beacon")

	viper.SetDefault("influx.enabled", false)
	viper.SetDefault("influx.host", "localhost")
	viper.SetDefault("influx.port", "8086")
	viper.SetDefault("influx.protocol", "http")
	viper.SetDefault("influx.token", "")
	viper.SetDefault("influx.org", "beacon-metrics")
	viper.SetDefault("influx.bucket", "sos_delivery")

	viper.SetDefault("graylog.enabled", false)
	viper.SetDefault("graylog.address", "localhost:12201")

	viper.SetDefault("otel.enabled", false)
	viper.SetDefault("otel.endpoint", "")
	viper.SetDefault("otel.insecure", true)

	viper.SetConfigName(ConfigFileName)
	viper.AddConfigPath(configDir)
	viper.SetConfigType("json")

	err := viper.ReadInConfig()
	if err != nil {
		return fmt.Errorf("error reading config file: %v", err)
	}

	return nil
}

// GetString returns a string config value.
func GetString(key string) string {
	return viper.GetString(key)
}

// GetInt returns an int config value.
func GetInt(key string) int {
	return viper.GetInt(key)
}

// GetBool returns a bool config value.
func GetBool(key string) bool {
	return viper.GetBool(key)
}

// GetFloat returns a float config value.
func GetFloat(key string) float64 {
	return viper.GetFloat64(key)
}

// GetDuration returns a duration config value.
func GetDuration(key string) time.Duration {
	return viper.GetDuration(key)
}
