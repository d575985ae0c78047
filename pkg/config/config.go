package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// MQTT Configuration
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string

	// MQTT topics
	MQTTTopicTelemetry string
	MQTTTopicPresence  string
	MQTTTopicAction    string
	MQTTTopicStatus    string

	// ClickHouse Configuration
	ClickHouseEnabled bool
	ClickHouseAddr    string
	ClickHouseDB      string
	ClickHouseUser    string
	ClickHousePass    string

	// Scoring Model Configuration
	ModelPath string

	// Policy thresholds
	WeakSignalDbm         int
	AudioRateThresholdBps float64
	CapacityThreshold     int
	BurstFactor           float64
	BurstFloorBps         float64

	// Session cadence and timeouts
	TickIntervalMs      int
	StaleTimeoutMs      int
	DisconnectTimeoutMs int

	// Buffer sizes
	ActionLogSize       int
	DriverQueueSize     int
	SampleChannelSize   int
	PresenceChannelSize int
	SnapshotChannelSize int
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		// MQTT Configuration
		MQTTBroker:   getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "btmonitor"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),

		// MQTT topics
		MQTTTopicTelemetry: getEnv("MQTT_TOPIC_TELEMETRY", "btlink/+/telemetry"),
		MQTTTopicPresence:  getEnv("MQTT_TOPIC_PRESENCE", "btlink/+/presence"),
		MQTTTopicAction:    getEnv("MQTT_TOPIC_ACTION", "btlink/{address}/action"),
		MQTTTopicStatus:    getEnv("MQTT_TOPIC_STATUS", "btlink/status"),

		// ClickHouse Configuration
		ClickHouseEnabled: getEnvBool("CLICKHOUSE_ENABLED", true),
		ClickHouseAddr:    getEnv("CLICKHOUSE_ADDR", "localhost:9000"),
		ClickHouseDB:      getEnv("CLICKHOUSE_DB", "btlink"),
		ClickHouseUser:    getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass:    getEnv("CLICKHOUSE_PASS", ""),

		// Scoring Model Configuration
		ModelPath: getEnv("MODEL_PATH", "./model/urgency_model.json"),

		// Policy thresholds
		WeakSignalDbm:         getEnvInt("WEAK_SIGNAL_DBM", -85),
		AudioRateThresholdBps: getEnvFloat("AUDIO_RATE_THRESHOLD_BPS", 625000),
		CapacityThreshold:     getEnvInt("CAPACITY_THRESHOLD", 7),
		BurstFactor:           getEnvFloat("BURST_FACTOR", 3.0),
		BurstFloorBps:         getEnvFloat("BURST_FLOOR_BPS", 50000),

		// Session cadence and timeouts
		TickIntervalMs:      getEnvInt("TICK_INTERVAL_MS", 1000),
		StaleTimeoutMs:      getEnvInt("STALE_TIMEOUT_MS", 5000),
		DisconnectTimeoutMs: getEnvInt("DISCONNECT_TIMEOUT_MS", 15000),

		// Buffer sizes
		ActionLogSize:       getEnvInt("ACTION_LOG_SIZE", 200),
		DriverQueueSize:     getEnvInt("DRIVER_QUEUE_SIZE", 64),
		SampleChannelSize:   getEnvInt("SAMPLE_CHANNEL_SIZE", 100),
		PresenceChannelSize: getEnvInt("PRESENCE_CHANNEL_SIZE", 20),
		SnapshotChannelSize: getEnvInt("SNAPSHOT_CHANNEL_SIZE", 8),
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as int, using default: %v", key, err)
		return defaultValue
	}
	return intValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		log.Printf("Warning: failed to parse %s as float, using default: %v", key, err)
		return defaultValue
	}
	return floatValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		log.Printf("Warning: failed to parse %s as bool, using default: %v", key, err)
		return defaultValue
	}
	return boolValue
}
