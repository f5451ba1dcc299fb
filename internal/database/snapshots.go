package database

import (
	"context"
	"time"
)

// StateSnapshotRow is an append-only telemetry record. The payload is stored
// verbatim; no schema is enforced server-side.
type StateSnapshotRow struct {
	ID         int64          `json:"id"`
	DeviceID   string         `json:"device_id"`
	DeviceType string         `json:"device_type"`
	Payload    map[string]any `json:"payload"`
	Time       time.Time      `json:"timestamp"`
}

func (db *DB) InsertStateSnapshot(ctx context.Context, deviceID, deviceType string, payload map[string]any, at time.Time) error {
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO device_state_snapshots (device_id, device_type, payload, time)
		VALUES ($1, $2, $3, $4)`,
		deviceID, deviceType, payload, at)
	return err
}

// ListStateSnapshots returns the latest snapshots for a device, newest first.
func (db *DB) ListStateSnapshots(ctx context.Context, deviceID string, limit int) ([]StateSnapshotRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, device_id, device_type, payload, time
		FROM device_state_snapshots
		WHERE device_id = $1
		ORDER BY time DESC
		LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var snaps []StateSnapshotRow
	for rows.Next() {
		var s StateSnapshotRow
		if err := rows.Scan(&s.ID, &s.DeviceID, &s.DeviceType, &s.Payload, &s.Time); err != nil {
			return nil, err
		}
		snaps = append(snaps, s)
	}
	if snaps == nil {
		snaps = []StateSnapshotRow{}
	}
	return snaps, rows.Err()
}
