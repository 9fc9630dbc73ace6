package serverdb

import (
	"database/sql"
	"fmt"
)

// Sale statuses.
const (
	SaleParked    = "parked"
	SaleCompleted = "completed"
	SaleVoided    = "voided"
)

// Sale is one business sale, unique per (store_id, client_tx_id).
type Sale struct {
	ID            string
	StoreID       string
	DeviceID      string
	ClientTxID    string
	ReceiptNumber string
	CustomerID    string
	Status        string
	Total         int64
	Refunded      int64
	Note          string
	CreatedAt     string
	UpdatedAt     string
}

// SaleLineRow is one persisted line item.
type SaleLineRow struct {
	SaleID    string
	ProductID string
	Qty       int64
	UnitPrice int64
}

// GetSaleByClientTx looks up a sale by its business idempotency key.
func (db *ServerDB) GetSaleByClientTx(storeID, clientTxID string) (*Sale, error) {
	return db.scanSale(db.conn.QueryRow(
		`SELECT id, store_id, device_id, client_tx_id, receipt_number, customer_id,
		        status, total, refunded, note, created_at, updated_at
		 FROM sales WHERE store_id = ? AND client_tx_id = ?`, storeID, clientTxID))
}

// GetSale looks up a sale by server id.
func (db *ServerDB) GetSale(storeID, saleID string) (*Sale, error) {
	return db.scanSale(db.conn.QueryRow(
		`SELECT id, store_id, device_id, client_tx_id, receipt_number, customer_id,
		        status, total, refunded, note, created_at, updated_at
		 FROM sales WHERE store_id = ? AND id = ?`, storeID, saleID))
}

func (db *ServerDB) scanSale(row *sql.Row) (*Sale, error) {
	var s Sale
	var receipt, customer, note sql.NullString
	err := row.Scan(&s.ID, &s.StoreID, &s.DeviceID, &s.ClientTxID, &receipt, &customer,
		&s.Status, &s.Total, &s.Refunded, &note, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get sale: %w", err)
	}
	s.ReceiptNumber = receipt.String
	s.CustomerID = customer.String
	s.Note = note.String
	return &s, nil
}

// InsertSale writes the sale row and its line items.
func (db *ServerDB) InsertSale(s *Sale, lines []SaleLineRow) error {
	if s.ID == "" {
		s.ID = mustID("sl_")
	}
	now := nowStamp()
	s.CreatedAt, s.UpdatedAt = now, now

	var receipt, customer, note any
	if s.ReceiptNumber != "" {
		receipt = s.ReceiptNumber
	}
	if s.CustomerID != "" {
		customer = s.CustomerID
	}
	if s.Note != "" {
		note = s.Note
	}

	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sales (id, store_id, device_id, client_tx_id, receipt_number, customer_id,
		                    status, total, refunded, note, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?)`,
		s.ID, s.StoreID, s.DeviceID, s.ClientTxID, receipt, customer, s.Status, s.Total, note, now, now,
	)
	if err != nil {
		return fmt.Errorf("insert sale: %w", err)
	}
	for _, l := range lines {
		if _, err := tx.Exec(
			`INSERT INTO sale_lines (sale_id, product_id, qty, unit_price) VALUES (?, ?, ?, ?)`,
			s.ID, l.ProductID, l.Qty, l.UnitPrice,
		); err != nil {
			return fmt.Errorf("insert sale line: %w", err)
		}
	}
	return tx.Commit()
}

// GetSaleLines returns the line items of a sale.
func (db *ServerDB) GetSaleLines(saleID string) ([]SaleLineRow, error) {
	rows, err := db.conn.Query(
		`SELECT sale_id, product_id, qty, unit_price FROM sale_lines WHERE sale_id = ?`, saleID)
	if err != nil {
		return nil, fmt.Errorf("query sale lines: %w", err)
	}
	defer rows.Close()

	var lines []SaleLineRow
	for rows.Next() {
		var l SaleLineRow
		if err := rows.Scan(&l.SaleID, &l.ProductID, &l.Qty, &l.UnitPrice); err != nil {
			return nil, fmt.Errorf("scan sale line: %w", err)
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

// SetSaleStatus updates a sale's status.
func (db *ServerDB) SetSaleStatus(storeID, saleID, status string) error {
	res, err := db.conn.Exec(
		`UPDATE sales SET status = ?, updated_at = ? WHERE store_id = ? AND id = ?`,
		status, nowStamp(), storeID, saleID,
	)
	if err != nil {
		return fmt.Errorf("set sale status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sale not found: %s", saleID)
	}
	return nil
}

// CompleteParkedSale flips a parked sale to completed and stamps its
// receipt number.
func (db *ServerDB) CompleteParkedSale(storeID, saleID, receiptNumber string) error {
	res, err := db.conn.Exec(
		`UPDATE sales SET status = ?, receipt_number = ?, updated_at = ?
		 WHERE store_id = ? AND id = ? AND status = ?`,
		SaleCompleted, receiptNumber, nowStamp(), storeID, saleID, SaleParked,
	)
	if err != nil {
		return fmt.Errorf("complete parked sale: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("sale %s is not parked", saleID)
	}
	return nil
}

// AddPayment records a payment against a sale. The id is caller-chosen
// so retried events can replay the insert idempotently.
func (db *ServerDB) AddPayment(paymentID, saleID, method string, amount int64) error {
	if paymentID == "" {
		paymentID = mustID("pay_")
	}
	_, err := db.conn.Exec(
		`INSERT OR IGNORE INTO payments (id, sale_id, method, amount, created_at) VALUES (?, ?, ?, ?, ?)`,
		paymentID, saleID, method, amount, nowStamp(),
	)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	_, err = db.conn.Exec(`UPDATE sales SET updated_at = ? WHERE id = ?`, nowStamp(), saleID)
	return err
}

// HasPayment reports whether a payment with the given id already exists.
func (db *ServerDB) HasPayment(paymentID string) (bool, error) {
	var n int
	err := db.conn.QueryRow(`SELECT COUNT(*) FROM payments WHERE id = ?`, paymentID).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check payment: %w", err)
	}
	return n > 0, nil
}

// PaidTotal sums the payments recorded against a sale.
func (db *ServerDB) PaidTotal(saleID string) (int64, error) {
	var total int64
	err := db.conn.QueryRow(
		`SELECT COALESCE(SUM(amount), 0) FROM payments WHERE sale_id = ?`, saleID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum payments: %w", err)
	}
	return total, nil
}

// GetRefundByClientTx looks up a refund by its idempotency key.
// Returns the refund amount and sale id, or ok=false when absent.
func (db *ServerDB) GetRefundByClientTx(storeID, clientTxID string) (saleID string, amount int64, ok bool, err error) {
	err = db.conn.QueryRow(
		`SELECT sale_id, amount FROM refunds WHERE store_id = ? AND client_tx_id = ?`,
		storeID, clientTxID,
	).Scan(&saleID, &amount)
	if err == sql.ErrNoRows {
		return "", 0, false, nil
	}
	if err != nil {
		return "", 0, false, fmt.Errorf("get refund: %w", err)
	}
	return saleID, amount, true, nil
}

// InsertRefund records a refund and bumps the sale's refunded total.
func (db *ServerDB) InsertRefund(storeID, saleID, clientTxID string, amount int64, reason string) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var rsn any
	if reason != "" {
		rsn = reason
	}
	if _, err := tx.Exec(
		`INSERT INTO refunds (id, store_id, sale_id, client_tx_id, amount, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		mustID("rf_"), storeID, saleID, clientTxID, amount, rsn, nowStamp(),
	); err != nil {
		return fmt.Errorf("insert refund: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE sales SET refunded = refunded + ?, updated_at = ? WHERE id = ?`,
		amount, nowStamp(), saleID,
	); err != nil {
		return fmt.Errorf("update sale refunded: %w", err)
	}
	return tx.Commit()
}
