package serverdb

import (
	"database/sql"
	"fmt"
)

// Category is one category row.
type Category struct {
	ID        string `json:"category_id"`
	StoreID   string `json:"store_id"`
	Name      string `json:"name"`
	UpdatedAt string `json:"updated_at"`
}

// CreateCategory inserts a category row.
func (db *ServerDB) CreateCategory(c *Category) error {
	if c.ID == "" {
		c.ID = mustID("cat_")
	}
	c.UpdatedAt = nowStamp()
	_, err := db.conn.Exec(
		`INSERT INTO categories (id, store_id, name, updated_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.StoreID, c.Name, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert category: %w", err)
	}
	return nil
}

// GetCategory returns a category row, or nil when absent or soft-deleted.
func (db *ServerDB) GetCategory(storeID, categoryID string) (*Category, error) {
	var c Category
	err := db.conn.QueryRow(
		`SELECT id, store_id, name, updated_at
		 FROM categories WHERE store_id = ? AND id = ? AND deleted_at IS NULL`,
		storeID, categoryID,
	).Scan(&c.ID, &c.StoreID, &c.Name, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get category: %w", err)
	}
	return &c, nil
}

// DeleteCategory soft-deletes a category so pulls tombstone it.
func (db *ServerDB) DeleteCategory(storeID, categoryID string) error {
	now := nowStamp()
	res, err := db.conn.Exec(
		`UPDATE categories SET deleted_at = ?, updated_at = ? WHERE store_id = ? AND id = ? AND deleted_at IS NULL`,
		now, now, storeID, categoryID,
	)
	if err != nil {
		return fmt.Errorf("delete category: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("category not found: %s", categoryID)
	}
	return nil
}
