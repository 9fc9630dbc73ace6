package clientdb

import (
	"database/sql"
	"fmt"
)

// SyncRecord is one completed (or failed) sync cycle.
type SyncRecord struct {
	ID         int64
	StartedAt  string
	FinishedAt string
	Pushed     int
	Applied    int
	Duplicates int
	Failed     int
	Pulled     int
	Error      string
}

// BeginSyncRecord opens a history row for a sync cycle and returns its id.
func (db *ClientDB) BeginSyncRecord() (int64, error) {
	res, err := db.conn.Exec("INSERT INTO sync_history (started_at) VALUES (?)", nowStamp())
	if err != nil {
		return 0, fmt.Errorf("begin sync record: %w", err)
	}
	return res.LastInsertId()
}

// FinishSyncRecord closes a history row with the cycle's tallies. A
// non-empty errMsg marks the cycle as failed.
func (db *ClientDB) FinishSyncRecord(id int64, pushed, applied, duplicates, failed, pulled int, errMsg string) error {
	var e any
	if errMsg != "" {
		e = errMsg
	}
	_, err := db.conn.Exec(`
		UPDATE sync_history
		SET finished_at = ?, pushed = ?, applied = ?, duplicates = ?, failed = ?, pulled = ?, error = ?
		WHERE id = ?
	`, nowStamp(), pushed, applied, duplicates, failed, pulled, e, id)
	if err != nil {
		return fmt.Errorf("finish sync record: %w", err)
	}
	return nil
}

// SyncHistory returns recent sync cycles, newest first.
func (db *ClientDB) SyncHistory(limit int) ([]SyncRecord, error) {
	rows, err := db.conn.Query(`
		SELECT id, started_at, finished_at, pushed, applied, duplicates, failed, pulled, error
		FROM sync_history ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("sync history: %w", err)
	}
	defer rows.Close()

	var out []SyncRecord
	for rows.Next() {
		var r SyncRecord
		var finished, errMsg sql.NullString
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.Pushed, &r.Applied, &r.Duplicates, &r.Failed, &r.Pulled, &errMsg); err != nil {
			return nil, err
		}
		r.FinishedAt = finished.String
		r.Error = errMsg.String
		out = append(out, r)
	}
	return out, rows.Err()
}
