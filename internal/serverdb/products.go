package serverdb

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// Product is one catalog row. StockQuantity is maintained exclusively
// through the stock ledger; PendingMutations is the crash-recovery
// marker list described alongside ApplyStockMutation.
type Product struct {
	ID               string `json:"product_id"`
	StoreID          string `json:"store_id"`
	CategoryID       string `json:"category_id,omitempty"`
	Name             string `json:"name"`
	Barcode          string `json:"barcode,omitempty"`
	Price            int64  `json:"price"`
	StockQuantity    int64  `json:"stock_quantity"`
	PendingMutations []string
	UpdatedAt        string `json:"updated_at"`
}

// CreateProduct inserts a product row. A duplicate barcode within the
// store is a conflict surfaced to the caller.
func (db *ServerDB) CreateProduct(p *Product) error {
	if p.ID == "" {
		p.ID = mustID("p_")
	}
	p.UpdatedAt = nowStamp()
	var barcode, category any
	if p.Barcode != "" {
		barcode = p.Barcode
	}
	if p.CategoryID != "" {
		category = p.CategoryID
	}
	_, err := db.conn.Exec(
		`INSERT INTO products (id, store_id, category_id, name, barcode, price, stock_quantity, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.StoreID, category, p.Name, barcode, p.Price, p.StockQuantity, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

// GetProduct returns a product row, or nil when absent or soft-deleted.
func (db *ServerDB) GetProduct(storeID, productID string) (*Product, error) {
	var p Product
	var barcode, category sql.NullString
	var pending string
	err := db.conn.QueryRow(
		`SELECT id, store_id, category_id, name, barcode, price, stock_quantity, pending_mutations, updated_at
		 FROM products WHERE store_id = ? AND id = ? AND deleted_at IS NULL`,
		storeID, productID,
	).Scan(&p.ID, &p.StoreID, &category, &p.Name, &barcode, &p.Price, &p.StockQuantity, &pending, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get product: %w", err)
	}
	p.Barcode = barcode.String
	p.CategoryID = category.String
	if err := json.Unmarshal([]byte(pending), &p.PendingMutations); err != nil {
		return nil, fmt.Errorf("decode pending mutations for %s: %w", p.ID, err)
	}
	return &p, nil
}

// DeleteProduct soft-deletes a product so pulls tombstone it.
func (db *ServerDB) DeleteProduct(storeID, productID string) error {
	now := nowStamp()
	res, err := db.conn.Exec(
		`UPDATE products SET deleted_at = ?, updated_at = ? WHERE store_id = ? AND id = ? AND deleted_at IS NULL`,
		now, now, storeID, productID,
	)
	if err != nil {
		return fmt.Errorf("delete product: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product not found: %s", productID)
	}
	return nil
}

// hasPendingMutation reports whether the product's marker list contains
// the given mutation key.
func (p *Product) hasPendingMutation(key string) bool {
	for _, k := range p.PendingMutations {
		if k == key {
			return true
		}
	}
	return false
}

// setQuantityWithMarker is phase 1 of a stock mutation: the new quantity
// and the mutation marker land in one update so a crash can never leave
// a quantity change without evidence of which mutation produced it.
func (db *ServerDB) setQuantityWithMarker(storeID, productID string, qty int64, markers []string) error {
	raw, err := json.Marshal(markers)
	if err != nil {
		return fmt.Errorf("encode pending mutations: %w", err)
	}
	res, err := db.conn.Exec(
		`UPDATE products SET stock_quantity = ?, pending_mutations = ?, updated_at = ?
		 WHERE store_id = ? AND id = ?`,
		qty, string(raw), nowStamp(), storeID, productID,
	)
	if err != nil {
		return fmt.Errorf("update quantity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("product not found: %s", productID)
	}
	return nil
}

// clearPendingMutation removes one marker from the product's list.
// Best-effort phase 3: a leftover marker is harmless.
func (db *ServerDB) clearPendingMutation(storeID, productID, key string) error {
	p, err := db.GetProduct(storeID, productID)
	if err != nil || p == nil {
		return err
	}
	kept := p.PendingMutations[:0]
	for _, k := range p.PendingMutations {
		if k != key {
			kept = append(kept, k)
		}
	}
	if len(kept) == len(p.PendingMutations) {
		return nil
	}
	raw, err := json.Marshal(kept)
	if err != nil {
		return fmt.Errorf("encode pending mutations: %w", err)
	}
	_, err = db.conn.Exec(
		`UPDATE products SET pending_mutations = ? WHERE store_id = ? AND id = ?`,
		string(raw), storeID, productID,
	)
	if err != nil {
		return fmt.Errorf("clear pending mutation: %w", err)
	}
	return nil
}

// setQuantity corrects a drifted product quantity to the ledger's value.
func (db *ServerDB) setQuantity(storeID, productID string, qty int64) error {
	_, err := db.conn.Exec(
		`UPDATE products SET stock_quantity = ?, updated_at = ? WHERE store_id = ? AND id = ?`,
		qty, nowStamp(), storeID, productID,
	)
	if err != nil {
		return fmt.Errorf("set quantity: %w", err)
	}
	return nil
}
