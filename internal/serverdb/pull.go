package serverdb

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangedRow is one live entity row returned by a pull: primary key,
// authoritative updated_at, and the full snapshot to upsert.
type ChangedRow struct {
	EntityID  string          `json:"entity_id"`
	UpdatedAt string          `json:"updated_at"`
	Snapshot  json.RawMessage `json:"snapshot"`
}

// Tombstones lists soft-deleted entity ids per table.
type Tombstones struct {
	Products   []string `json:"products"`
	Customers  []string `json:"customers"`
	Categories []string `json:"categories"`
}

// PullChanges is everything a store changed after a cursor: live rows,
// tombstones, the settings blob, and the new cursor. NewCursor is the
// maximum updated_at actually delivered (including the store row), so a
// client that crashes before persisting it just re-pulls the same window.
type PullChanges struct {
	Products   []ChangedRow
	Customers  []ChangedRow
	Categories []ChangedRow
	Tombstones Tombstones
	Settings   *StoreSettings
	NewCursor  string
}

// ChangesSince collects every row with updated_at > cursor for a store.
// A zero cursor is the full-pull case.
func (db *ServerDB) ChangesSince(storeID string, cursor time.Time) (*PullChanges, error) {
	settings, err := db.GetStore(storeID)
	if err != nil {
		return nil, err
	}
	if settings == nil {
		return nil, fmt.Errorf("store not found: %s", storeID)
	}

	after := FormatStamp(cursor)
	out := &PullChanges{Settings: settings, NewCursor: after}

	// The store row participates in cursor advancement so settings
	// changes are never skipped by a later incremental pull.
	if settings.UpdatedAt > out.NewCursor {
		out.NewCursor = settings.UpdatedAt
	}

	out.Products, out.Tombstones.Products, err = db.changedRows(
		`SELECT id, updated_at, deleted_at,
		        json_object('product_id', id, 'store_id', store_id, 'category_id', category_id,
		                    'name', name, 'barcode', barcode, 'price', price,
		                    'stock_quantity', stock_quantity, 'updated_at', updated_at)
		 FROM products WHERE store_id = ? AND updated_at > ? ORDER BY updated_at`,
		storeID, after, out)
	if err != nil {
		return nil, fmt.Errorf("products changed since: %w", err)
	}

	out.Customers, out.Tombstones.Customers, err = db.changedRows(
		`SELECT id, updated_at, deleted_at,
		        json_object('customer_id', id, 'store_id', store_id, 'name', name,
		                    'email', email, 'phone', phone, 'updated_at', updated_at)
		 FROM customers WHERE store_id = ? AND updated_at > ? ORDER BY updated_at`,
		storeID, after, out)
	if err != nil {
		return nil, fmt.Errorf("customers changed since: %w", err)
	}

	out.Categories, out.Tombstones.Categories, err = db.changedRows(
		`SELECT id, updated_at, deleted_at,
		        json_object('category_id', id, 'store_id', store_id, 'name', name, 'updated_at', updated_at)
		 FROM categories WHERE store_id = ? AND updated_at > ? ORDER BY updated_at`,
		storeID, after, out)
	if err != nil {
		return nil, fmt.Errorf("categories changed since: %w", err)
	}

	return out, nil
}

// changedRows runs one changed-since query, splitting live rows from
// tombstones and advancing the pull cursor over everything it saw.
func (db *ServerDB) changedRows(query, storeID, after string, out *PullChanges) ([]ChangedRow, []string, error) {
	rows, err := db.conn.Query(query, storeID, after)
	if err != nil {
		return nil, nil, err
	}
	defer rows.Close()

	var live []ChangedRow
	var dead []string
	for rows.Next() {
		var id, updatedAt, snapshot string
		var deletedAt *string
		if err := rows.Scan(&id, &updatedAt, &deletedAt, &snapshot); err != nil {
			return nil, nil, err
		}
		if updatedAt > out.NewCursor {
			out.NewCursor = updatedAt
		}
		if deletedAt != nil {
			dead = append(dead, id)
			continue
		}
		live = append(live, ChangedRow{
			EntityID:  id,
			UpdatedAt: updatedAt,
			Snapshot:  json.RawMessage(snapshot),
		})
	}
	return live, dead, rows.Err()
}
