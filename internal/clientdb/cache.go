package clientdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// CachedRow is one catalog entity snapshot received from a pull.
type CachedRow struct {
	ID        string          `json:"id"`
	UpdatedAt string          `json:"updated_at"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

// PullData is the device-side shape of one pull response.
type PullData struct {
	Products          []CachedRow
	Customers         []CachedRow
	Categories        []CachedRow
	DeletedProducts   []string
	DeletedCustomers  []string
	DeletedCategories []string
	Settings          json.RawMessage
	NewCursor         string
}

// SyncState is the single-row sync bookkeeping: where the pull cursor is
// and the last settings snapshot the server sent.
type SyncState struct {
	Cursor     string
	Settings   json.RawMessage
	LastSyncAt string
}

// ApplyPull applies one pull response atomically: catalog upserts,
// tombstone deletes, the settings snapshot, and the cursor advance all
// commit together. A crash mid-pull therefore re-pulls the same window,
// which is harmless.
func (db *ClientDB) ApplyPull(data PullData) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin pull apply: %w", err)
	}
	defer tx.Rollback()

	upsert := func(table string, rows []CachedRow, deleted []string) error {
		for _, row := range rows {
			_, err := tx.Exec(fmt.Sprintf(`
				INSERT INTO %s (id, snapshot, updated_at) VALUES (?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at
			`, table), row.ID, string(row.Snapshot), row.UpdatedAt)
			if err != nil {
				return fmt.Errorf("upsert %s %s: %w", table, row.ID, err)
			}
		}
		for _, id := range deleted {
			if _, err := tx.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id); err != nil {
				return fmt.Errorf("delete %s %s: %w", table, id, err)
			}
		}
		return nil
	}

	if err := upsert("cached_products", data.Products, data.DeletedProducts); err != nil {
		return err
	}
	if err := upsert("cached_customers", data.Customers, data.DeletedCustomers); err != nil {
		return err
	}
	if err := upsert("cached_categories", data.Categories, data.DeletedCategories); err != nil {
		return err
	}

	var settings any
	if len(data.Settings) > 0 {
		settings = string(data.Settings)
	}
	_, err = tx.Exec(`
		INSERT INTO sync_state (id, cursor, settings, last_sync_at) VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			cursor = excluded.cursor,
			settings = COALESCE(excluded.settings, sync_state.settings),
			last_sync_at = excluded.last_sync_at
	`, data.NewCursor, settings, nowStamp())
	if err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}

	return tx.Commit()
}

// GetSyncState returns the sync bookkeeping row, or a zero state if the
// device has never pulled.
func (db *ClientDB) GetSyncState() (*SyncState, error) {
	var s SyncState
	var settings, lastSync sql.NullString
	err := db.conn.QueryRow("SELECT cursor, settings, last_sync_at FROM sync_state WHERE id = 1").
		Scan(&s.Cursor, &settings, &lastSync)
	if err == sql.ErrNoRows {
		return &SyncState{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sync state: %w", err)
	}
	if settings.Valid {
		s.Settings = json.RawMessage(settings.String)
	}
	s.LastSyncAt = lastSync.String
	return &s, nil
}

// GetCachedProduct returns the cached snapshot of one product, or nil if
// the device has never pulled it (or it was tombstoned).
func (db *ClientDB) GetCachedProduct(id string) (json.RawMessage, error) {
	return db.cachedSnapshot("cached_products", id)
}

// GetCachedCustomer returns the cached snapshot of one customer, or nil.
func (db *ClientDB) GetCachedCustomer(id string) (json.RawMessage, error) {
	return db.cachedSnapshot("cached_customers", id)
}

// GetCachedCategory returns the cached snapshot of one category, or nil.
func (db *ClientDB) GetCachedCategory(id string) (json.RawMessage, error) {
	return db.cachedSnapshot("cached_categories", id)
}

func (db *ClientDB) cachedSnapshot(table, id string) (json.RawMessage, error) {
	var snapshot string
	err := db.conn.QueryRow(fmt.Sprintf("SELECT snapshot FROM %s WHERE id = ?", table), id).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached %s: %w", table, err)
	}
	return json.RawMessage(snapshot), nil
}

// ListCachedProducts returns every cached product snapshot.
func (db *ClientDB) ListCachedProducts() ([]CachedRow, error) {
	rows, err := db.conn.Query("SELECT id, snapshot, updated_at FROM cached_products ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("list cached products: %w", err)
	}
	defer rows.Close()

	var out []CachedRow
	for rows.Next() {
		var row CachedRow
		var snapshot string
		if err := rows.Scan(&row.ID, &snapshot, &row.UpdatedAt); err != nil {
			return nil, err
		}
		row.Snapshot = json.RawMessage(snapshot)
		out = append(out, row)
	}
	return out, rows.Err()
}
