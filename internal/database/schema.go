package database

// SQL schemas for all ClickHouse tables

const (
	// LinkTelemetryTableSQL creates the link_telemetry table
	LinkTelemetryTableSQL = `
		CREATE TABLE IF NOT EXISTS link_telemetry (
			timestamp DateTime64(3),
			address String,
			signal_dbm Int32,
			data_rate_bps Float64
		) ENGINE = MergeTree()
		ORDER BY (address, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// OptimizationActionsTableSQL creates the optimization_actions table
	OptimizationActionsTableSQL = `
		CREATE TABLE IF NOT EXISTS optimization_actions (
			timestamp DateTime64(3),
			action_id String,
			address String,
			kind String,
			reason String,
			outcome String,
			detail String
		) ENGINE = MergeTree()
		ORDER BY (address, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// PriorityAuditTableSQL creates the priority_audit table
	PriorityAuditTableSQL = `
		CREATE TABLE IF NOT EXISTS priority_audit (
			timestamp DateTime64(3),
			address String,
			prev_priority String,
			new_priority String,
			reason String
		) ENGINE = MergeTree()
		ORDER BY (address, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// DeviceRegistryTableSQL creates the device_registry table
	DeviceRegistryTableSQL = `
		CREATE TABLE IF NOT EXISTS device_registry (
			address String,
			name String,
			class String,
			connected_at DateTime64(3),
			last_seen DateTime64(3),
			is_active UInt8
		) ENGINE = ReplacingMergeTree(last_seen)
		ORDER BY address
	`
)

// AllTables returns all table creation statements
func AllTables() []string {
	return []string{
		LinkTelemetryTableSQL,
		OptimizationActionsTableSQL,
		PriorityAuditTableSQL,
		DeviceRegistryTableSQL,
	}
}
