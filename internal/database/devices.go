package database

import (
	"context"
	"time"
)

// DeviceRow mirrors the devices table. The registry is the authority for
// liveness; this row is the durable follower.
type DeviceRow struct {
	DeviceID       string         `json:"device_id"`
	DeviceType     string         `json:"device_type"`
	IsOnline       bool           `json:"is_online"`
	LastHeartbeat  *time.Time     `json:"last_heartbeat"`
	ConnectedAt    *time.Time     `json:"connected_at"`
	DisconnectedAt *time.Time     `json:"disconnected_at"`
	Metadata       map[string]any `json:"metadata"`
}

// UpsertDevice inserts or replaces the device row. Idempotent: upserting the
// same device twice leaves one row matching the last call.
func (db *DB) UpsertDevice(ctx context.Context, d DeviceRow) error {
	meta := d.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO devices (device_id, device_type, is_online, last_heartbeat, connected_at, disconnected_at, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (device_id) DO UPDATE SET
			device_type = EXCLUDED.device_type,
			is_online = EXCLUDED.is_online,
			last_heartbeat = EXCLUDED.last_heartbeat,
			connected_at = EXCLUDED.connected_at,
			disconnected_at = EXCLUDED.disconnected_at,
			metadata = EXCLUDED.metadata`,
		d.DeviceID, d.DeviceType, d.IsOnline, d.LastHeartbeat, d.ConnectedAt, d.DisconnectedAt, meta)
	return err
}

// MarkDeviceOffline flips the durable row offline without touching metadata.
func (db *DB) MarkDeviceOffline(ctx context.Context, deviceID string, at time.Time) error {
	_, err := db.Pool.Exec(ctx, `
		UPDATE devices SET is_online = FALSE, disconnected_at = $2
		WHERE device_id = $1`,
		deviceID, at)
	return err
}

// GetDevice returns one device row, or nil if unknown.
func (db *DB) GetDevice(ctx context.Context, deviceID string) (*DeviceRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT device_id, device_type, is_online, last_heartbeat, connected_at, disconnected_at, metadata
		FROM devices WHERE device_id = $1`, deviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var d DeviceRow
	if err := rows.Scan(&d.DeviceID, &d.DeviceType, &d.IsOnline,
		&d.LastHeartbeat, &d.ConnectedAt, &d.DisconnectedAt, &d.Metadata); err != nil {
		return nil, err
	}
	return &d, nil
}

// ListDevices returns all known devices, most recently heard first.
func (db *DB) ListDevices(ctx context.Context) ([]DeviceRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT device_id, device_type, is_online, last_heartbeat, connected_at, disconnected_at, metadata
		FROM devices
		ORDER BY last_heartbeat DESC NULLS LAST`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var devices []DeviceRow
	for rows.Next() {
		var d DeviceRow
		if err := rows.Scan(&d.DeviceID, &d.DeviceType, &d.IsOnline,
			&d.LastHeartbeat, &d.ConnectedAt, &d.DisconnectedAt, &d.Metadata); err != nil {
			return nil, err
		}
		devices = append(devices, d)
	}
	if devices == nil {
		devices = []DeviceRow{}
	}
	return devices, rows.Err()
}
