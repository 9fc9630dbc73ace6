package serverdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// AppliedEvent records the outcome of one applied event so a replayed
// event_id returns the original result instead of re-running the applier.
type AppliedEvent struct {
	EventID   string
	StoreID   string
	DeviceID  string
	EventType string
	Status    string
	Data      json.RawMessage
	CreatedAt string
}

// GetAppliedEvent returns the recorded outcome for an event id, or nil.
func (db *ServerDB) GetAppliedEvent(eventID string) (*AppliedEvent, error) {
	var e AppliedEvent
	var data sql.NullString
	err := db.conn.QueryRow(
		`SELECT event_id, store_id, device_id, event_type, status, data, created_at
		 FROM applied_events WHERE event_id = ?`, eventID,
	).Scan(&e.EventID, &e.StoreID, &e.DeviceID, &e.EventType, &e.Status, &data, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get applied event: %w", err)
	}
	if data.Valid {
		e.Data = json.RawMessage(data.String)
	}
	return &e, nil
}

// RecordAppliedEvent stores the outcome of an applied event. Idempotent:
// a replay that lost the race keeps the first recorded outcome.
func (db *ServerDB) RecordAppliedEvent(e *AppliedEvent) error {
	var data any
	if len(e.Data) > 0 {
		data = string(e.Data)
	}
	_, err := db.conn.Exec(
		`INSERT OR IGNORE INTO applied_events (event_id, store_id, device_id, event_type, status, data, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.EventID, e.StoreID, e.DeviceID, e.EventType, e.Status, data, nowStamp(),
	)
	if err != nil {
		return fmt.Errorf("record applied event: %w", err)
	}
	return nil
}
