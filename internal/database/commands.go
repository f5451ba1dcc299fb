package database

import (
	"context"
	"errors"
	"time"
)

// Command lifecycle statuses. Transitions only move forward along
// created → sent → {ack_success, ack_error, timeout} and created → no_targets.
const (
	StatusCreated    = "created"
	StatusSent       = "sent"
	StatusAckSuccess = "ack_success"
	StatusAckError   = "ack_error"
	StatusTimeout    = "timeout"
	StatusNoTargets  = "no_targets"
)

// ErrInvalidTransition is returned when a status update would regress the
// lifecycle or the command id is unknown.
var ErrInvalidTransition = errors.New("invalid command status transition")

// priorStatuses maps each status to the statuses it may be entered from.
var priorStatuses = map[string][]string{
	StatusSent:       {StatusCreated},
	StatusNoTargets:  {StatusCreated},
	StatusAckSuccess: {StatusSent},
	StatusAckError:   {StatusSent},
	StatusTimeout:    {StatusSent},
}

// CommandRow mirrors the command_logs table.
type CommandRow struct {
	CommandID         string         `json:"command_id"`
	DeviceType        string         `json:"device_type"`
	CommandName       string         `json:"command_name"`
	Payload           map[string]any `json:"payload"`
	Status            string         `json:"status"`
	TargetDeviceCount int            `json:"target_device_count"`
	SuccessCount      int            `json:"success_count"`
	CreatedAt         time.Time      `json:"created_at"`
	ExecutedAt        *time.Time     `json:"executed_at"`
	CompletedAt       *time.Time     `json:"completed_at"`
	Response          map[string]any `json:"response,omitempty"`
}

// CommandStatusUpdate carries the optional fields of a status transition.
type CommandStatusUpdate struct {
	ExecutedAt   *time.Time
	CompletedAt  *time.Time
	SuccessCount *int
	TargetCount  *int
	Response     map[string]any
}

func (db *DB) CreateCommand(ctx context.Context, c CommandRow) error {
	payload := c.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO command_logs (command_id, device_type, command_name, payload, status, target_device_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		c.CommandID, c.DeviceType, c.CommandName, payload, StatusCreated, c.TargetDeviceCount, c.CreatedAt)
	return err
}

// UpdateCommandStatus moves a command forward in its lifecycle. The prior
// status is checked in the WHERE clause, so a regressing or duplicate
// transition affects zero rows and returns ErrInvalidTransition.
func (db *DB) UpdateCommandStatus(ctx context.Context, commandID, newStatus string, upd CommandStatusUpdate) error {
	prior, ok := priorStatuses[newStatus]
	if !ok {
		return ErrInvalidTransition
	}
	tag, err := db.Pool.Exec(ctx, `
		UPDATE command_logs SET
			status = $2,
			executed_at = COALESCE($3, executed_at),
			completed_at = COALESCE($4, completed_at),
			success_count = COALESCE($5, success_count),
			target_device_count = COALESCE($6, target_device_count),
			response = COALESCE($7, response)
		WHERE command_id = $1 AND status = ANY($8)`,
		commandID, newStatus, upd.ExecutedAt, upd.CompletedAt,
		upd.SuccessCount, upd.TargetCount, upd.Response, prior)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrInvalidTransition
	}
	return nil
}

// GetCommand returns one command row, or nil if unknown.
func (db *DB) GetCommand(ctx context.Context, commandID string) (*CommandRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT command_id, device_type, command_name, payload, status,
			target_device_count, success_count, created_at, executed_at, completed_at, response
		FROM command_logs WHERE command_id = $1`, commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var c CommandRow
	if err := rows.Scan(&c.CommandID, &c.DeviceType, &c.CommandName, &c.Payload, &c.Status,
		&c.TargetDeviceCount, &c.SuccessCount, &c.CreatedAt, &c.ExecutedAt, &c.CompletedAt, &c.Response); err != nil {
		return nil, err
	}
	return &c, nil
}

// CommandFilter narrows ListCommands. Zero values mean no filter.
type CommandFilter struct {
	Status     string
	DeviceType string
	Limit      int
}

// ListCommands returns command logs matching the filter, newest first.
func (db *DB) ListCommands(ctx context.Context, f CommandFilter) ([]CommandRow, error) {
	var status, deviceType *string
	if f.Status != "" {
		status = &f.Status
	}
	if f.DeviceType != "" {
		deviceType = &f.DeviceType
	}

	rows, err := db.Pool.Query(ctx, `
		SELECT command_id, device_type, command_name, payload, status,
			target_device_count, success_count, created_at, executed_at, completed_at, response
		FROM command_logs
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR device_type = $2)
		ORDER BY created_at DESC
		LIMIT $3`, status, deviceType, f.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cmds []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(&c.CommandID, &c.DeviceType, &c.CommandName, &c.Payload, &c.Status,
			&c.TargetDeviceCount, &c.SuccessCount, &c.CreatedAt, &c.ExecutedAt, &c.CompletedAt, &c.Response); err != nil {
			return nil, err
		}
		cmds = append(cmds, c)
	}
	if cmds == nil {
		cmds = []CommandRow{}
	}
	return cmds, rows.Err()
}
