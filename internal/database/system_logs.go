package database

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// SystemLogRow is one structured log line captured from the process logger.
type SystemLogRow struct {
	ID        int64          `json:"id"`
	Time      time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Component string         `json:"component,omitempty"`
	Message   string         `json:"message"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// InsertSystemLogs batch-inserts log rows. Called by the logstore writer.
func (db *DB) InsertSystemLogs(ctx context.Context, logs []SystemLogRow) (int64, error) {
	if len(logs) == 0 {
		return 0, nil
	}
	rows := make([][]any, len(logs))
	for i, l := range logs {
		rows[i] = []any{l.Time, l.Level, l.Component, l.Message, l.Fields}
	}
	return db.Pool.CopyFrom(ctx,
		pgx.Identifier{"system_logs"},
		[]string{"time", "level", "component", "message", "fields"},
		pgx.CopyFromRows(rows))
}

// ListSystemLogs returns the latest log lines, newest first, optionally
// filtered by level.
func (db *DB) ListSystemLogs(ctx context.Context, level string, limit int) ([]SystemLogRow, error) {
	var levelFilter *string
	if level != "" {
		levelFilter = &level
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, time, level, component, message, fields
		FROM system_logs
		WHERE ($1::text IS NULL OR level = $1)
		ORDER BY time DESC
		LIMIT $2`, levelFilter, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SystemLogRow
	for rows.Next() {
		var l SystemLogRow
		if err := rows.Scan(&l.ID, &l.Time, &l.Level, &l.Component, &l.Message, &l.Fields); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	if out == nil {
		out = []SystemLogRow{}
	}
	return out, rows.Err()
}
