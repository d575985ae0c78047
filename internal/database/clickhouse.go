package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"btmonitor/internal/models"
	"btmonitor/internal/registry"
)

type ClickHouseDB struct {
	conn driver.Conn
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(addr, database, username, password string) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})

	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	log.Printf("Connected to ClickHouse at %s", addr)

	db := &ClickHouseDB{conn: conn}

	// Initialize schema
	if err := db.InitSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema() error {
	ctx := context.Background()

	tables := AllTables()
	for _, tableSQL := range tables {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	log.Println("Database schema initialized successfully")
	return nil
}

// SaveTelemetry archives the link state of a device after an ingest
func (db *ClickHouseDB) SaveTelemetry(dev *models.Device) error {
	ctx := context.Background()

	query := `
		INSERT INTO link_telemetry (timestamp, address, signal_dbm, data_rate_bps)
		VALUES (?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		dev.LastUpdated,
		dev.Address,
		int32(dev.SignalStrength),
		dev.DataRate,
	)

	if err != nil {
		return fmt.Errorf("failed to insert link telemetry: %w", err)
	}

	return nil
}

// SaveAction archives a dispatched optimization action with its outcome
func (db *ClickHouseDB) SaveAction(rec *models.ActionRecord) error {
	ctx := context.Background()

	query := `
		INSERT INTO optimization_actions (timestamp, action_id, address, kind, reason, outcome, detail)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		rec.CompletedAt,
		rec.Action.ID,
		rec.Action.TargetAddress,
		string(rec.Action.Kind),
		rec.Action.Reason,
		string(rec.Outcome),
		rec.Detail,
	)

	if err != nil {
		return fmt.Errorf("failed to insert optimization action: %w", err)
	}

	return nil
}

// SavePriorityChange archives one priority audit entry
func (db *ClickHouseDB) SavePriorityChange(chg registry.PriorityChange) error {
	ctx := context.Background()

	query := `
		INSERT INTO priority_audit (timestamp, address, prev_priority, new_priority, reason)
		VALUES (?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		chg.Timestamp,
		chg.Address,
		string(chg.From),
		string(chg.To),
		chg.Reason,
	)

	if err != nil {
		return fmt.Errorf("failed to insert priority change: %w", err)
	}

	return nil
}

// UpsertDevice records a device in the registry table
func (db *ClickHouseDB) UpsertDevice(dev *models.Device) error {
	ctx := context.Background()

	isActive := uint8(0)
	if dev.Status != models.StatusDisconnected {
		isActive = 1
	}

	query := `
		INSERT INTO device_registry (address, name, class, connected_at, last_seen, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		dev.Address,
		dev.Name,
		string(dev.Class),
		dev.ConnectedAt,
		dev.LastUpdated,
		isActive,
	)

	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}

	return nil
}

// RecentActions returns the newest n archived actions, oldest first, for
// observers that outlive the in-memory action log.
func (db *ClickHouseDB) RecentActions(n int) ([]models.ActionRecord, error) {
	ctx := context.Background()

	query := `
		SELECT timestamp, action_id, address, kind, reason, outcome, detail
		FROM optimization_actions
		ORDER BY timestamp DESC
		LIMIT ?
	`

	rows, err := db.conn.Query(ctx, query, uint64(n))
	if err != nil {
		return nil, fmt.Errorf("failed to query recent actions: %w", err)
	}
	defer rows.Close()

	var records []models.ActionRecord
	for rows.Next() {
		var rec models.ActionRecord
		var kind, outcome string
		if err := rows.Scan(
			&rec.CompletedAt,
			&rec.Action.ID,
			&rec.Action.TargetAddress,
			&kind,
			&rec.Action.Reason,
			&outcome,
			&rec.Detail,
		); err != nil {
			return nil, fmt.Errorf("failed to scan action row: %w", err)
		}
		rec.Action.Kind = models.ActionKind(kind)
		rec.Outcome = models.ActionOutcome(outcome)
		records = append(records, rec)
	}

	// Query returns newest first; flip to match the in-memory log's ordering
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, nil
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	return db.conn.Close()
}
