package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "tcp://localhost:1883", cfg.MQTTBroker)
	assert.Equal(t, "btmonitor", cfg.MQTTClientID)
	assert.Equal(t, "btlink/+/telemetry", cfg.MQTTTopicTelemetry)
	assert.Equal(t, "btlink/{address}/action", cfg.MQTTTopicAction)
	assert.Equal(t, -85, cfg.WeakSignalDbm)
	assert.Equal(t, float64(625000), cfg.AudioRateThresholdBps)
	assert.Equal(t, 7, cfg.CapacityThreshold)
	assert.Equal(t, 3.0, cfg.BurstFactor)
	assert.Equal(t, 1000, cfg.TickIntervalMs)
	assert.Equal(t, 15000, cfg.DisconnectTimeoutMs)
	assert.True(t, cfg.ClickHouseEnabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MQTT_BROKER", "tcp://broker.example:1883")
	t.Setenv("WEAK_SIGNAL_DBM", "-80")
	t.Setenv("CAPACITY_THRESHOLD", "12")
	t.Setenv("BURST_FACTOR", "2.5")
	t.Setenv("CLICKHOUSE_ENABLED", "false")

	cfg := Load()

	assert.Equal(t, "tcp://broker.example:1883", cfg.MQTTBroker)
	assert.Equal(t, -80, cfg.WeakSignalDbm)
	assert.Equal(t, 12, cfg.CapacityThreshold)
	assert.Equal(t, 2.5, cfg.BurstFactor)
	assert.False(t, cfg.ClickHouseEnabled)
}

func TestLoadIgnoresMalformedValues(t *testing.T) {
	t.Setenv("CAPACITY_THRESHOLD", "many")
	t.Setenv("BURST_FACTOR", "fast")
	t.Setenv("CLICKHOUSE_ENABLED", "maybe")

	cfg := Load()

	assert.Equal(t, 7, cfg.CapacityThreshold)
	assert.Equal(t, 3.0, cfg.BurstFactor)
	assert.True(t, cfg.ClickHouseEnabled)
}
