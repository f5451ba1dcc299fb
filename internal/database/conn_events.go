package database

import (
	"context"
	"time"
)

// Connection event kinds.
const (
	EventConnected    = "connected"
	EventDisconnected = "disconnected"
	EventTimeout      = "timeout"
	EventReregistered = "reregistered"
)

// ConnectionEventRow is an append-only connection history record.
type ConnectionEventRow struct {
	ID         int64          `json:"id"`
	DeviceID   string         `json:"device_id"`
	DeviceType string         `json:"device_type"`
	Event      string         `json:"event"`
	Time       time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
}

func (db *DB) InsertConnectionEvent(ctx context.Context, deviceID, deviceType, event string, at time.Time, details map[string]any) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO connection_events (device_id, device_type, event, time, details)
		VALUES ($1, $2, $3, $4, $5)`,
		deviceID, deviceType, event, at, details)
	return err
}

// ListConnectionEvents returns the latest events for a device, newest first.
func (db *DB) ListConnectionEvents(ctx context.Context, deviceID string, limit int) ([]ConnectionEventRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, device_id, device_type, event, time, details
		FROM connection_events
		WHERE device_id = $1
		ORDER BY time DESC
		LIMIT $2`, deviceID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []ConnectionEventRow
	for rows.Next() {
		var e ConnectionEventRow
		if err := rows.Scan(&e.ID, &e.DeviceID, &e.DeviceType, &e.Event, &e.Time, &e.Details); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	if events == nil {
		events = []ConnectionEventRow{}
	}
	return events, rows.Err()
}
