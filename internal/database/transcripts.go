package database

import (
	"context"
	"time"
)

// TranscriptRow records the full decision chain of one audio upload:
// raw text, normalization, prefix gate, fuzzy match, and the command issued.
type TranscriptRow struct {
	ID             int64     `json:"id"`
	DeviceID       string    `json:"device_id"`
	RawText        string    `json:"raw_text"`
	NormalizedText string    `json:"normalized_text"`
	PrefixOK       bool      `json:"prefix_ok"`
	CommandName    *string   `json:"command_name"`
	Confidence     float64   `json:"confidence"`
	Manual         bool      `json:"manual"`
	Level          *float64  `json:"level,omitempty"`
	WakeThreshold  *float64  `json:"threshold,omitempty"`
	CommandID      *string   `json:"command_id,omitempty"`
	Reason         *string   `json:"reason,omitempty"`
	Time           time.Time `json:"timestamp"`
}

func (db *DB) InsertTranscript(ctx context.Context, t TranscriptRow) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO audio_transcripts (device_id, raw_text, normalized_text, prefix_ok, command_name, confidence, manual, level, threshold, command_id, reason, time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		t.DeviceID, t.RawText, t.NormalizedText, t.PrefixOK, t.CommandName,
		t.Confidence, t.Manual, t.Level, t.WakeThreshold, t.CommandID, t.Reason, t.Time)
	return err
}

// ListTranscripts returns the latest transcripts, newest first.
func (db *DB) ListTranscripts(ctx context.Context, limit int) ([]TranscriptRow, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, device_id, raw_text, normalized_text, prefix_ok, command_name, confidence, manual, level, threshold, command_id, reason, time
		FROM audio_transcripts
		ORDER BY time DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TranscriptRow
	for rows.Next() {
		var t TranscriptRow
		if err := rows.Scan(&t.ID, &t.DeviceID, &t.RawText, &t.NormalizedText, &t.PrefixOK,
			&t.CommandName, &t.Confidence, &t.Manual, &t.Level, &t.WakeThreshold,
			&t.CommandID, &t.Reason, &t.Time); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if out == nil {
		out = []TranscriptRow{}
	}
	return out, rows.Err()
}
