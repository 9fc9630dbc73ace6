package serverdb

import (
	"database/sql"
	"fmt"
)

// Customer is one customer row.
type Customer struct {
	ID        string `json:"customer_id"`
	StoreID   string `json:"store_id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Phone     string `json:"phone,omitempty"`
	UpdatedAt string `json:"updated_at"`
}

// CreateCustomer inserts a customer row.
func (db *ServerDB) CreateCustomer(c *Customer) error {
	if c.ID == "" {
		c.ID = mustID("c_")
	}
	c.UpdatedAt = nowStamp()
	_, err := db.conn.Exec(
		`INSERT INTO customers (id, store_id, name, email, phone, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		c.ID, c.StoreID, c.Name, c.Email, c.Phone, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert customer: %w", err)
	}
	return nil
}

// GetCustomer returns a customer row, or nil when absent or soft-deleted.
func (db *ServerDB) GetCustomer(storeID, customerID string) (*Customer, error) {
	var c Customer
	var email, phone sql.NullString
	err := db.conn.QueryRow(
		`SELECT id, store_id, name, email, phone, updated_at
		 FROM customers WHERE store_id = ? AND id = ? AND deleted_at IS NULL`,
		storeID, customerID,
	).Scan(&c.ID, &c.StoreID, &c.Name, &email, &phone, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get customer: %w", err)
	}
	c.Email = email.String
	c.Phone = phone.String
	return &c, nil
}

// DeleteCustomer soft-deletes a customer so pulls tombstone it.
func (db *ServerDB) DeleteCustomer(storeID, customerID string) error {
	now := nowStamp()
	res, err := db.conn.Exec(
		`UPDATE customers SET deleted_at = ?, updated_at = ? WHERE store_id = ? AND id = ? AND deleted_at IS NULL`,
		now, now, storeID, customerID,
	)
	if err != nil {
		return fmt.Errorf("delete customer: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("customer not found: %s", customerID)
	}
	return nil
}
