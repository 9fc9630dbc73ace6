package clientdb

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/harper/till/internal/envelope"
)

// Receipt states.
const (
	ReceiptPending   = "pending"
	ReceiptConfirmed = "confirmed"
	ReceiptRejected  = "rejected"
)

// Receipt is a locally issued sale record. It exists from the moment the
// sale is rung up offline; the server receipt number arrives later with the
// push acknowledgement.
type Receipt struct {
	ID            string
	ClientTxID    string
	SaleID        string
	ReceiptNumber string
	Status        string
	Total         int64
	Lines         []envelope.SaleLine
	CreatedAt     string
	UpdatedAt     string
}

// CreateReceipt records a pending local receipt for a sale transaction.
func (db *ClientDB) CreateReceipt(clientTxID string, total int64, lines []envelope.SaleLine) (*Receipt, error) {
	id, err := generateID("rcpt-")
	if err != nil {
		return nil, err
	}
	encoded, err := json.Marshal(lines)
	if err != nil {
		return nil, fmt.Errorf("encode receipt lines: %w", err)
	}

	now := nowStamp()
	_, err = db.conn.Exec(`
		INSERT INTO receipts (id, client_tx_id, status, total, lines, created_at, updated_at)
		VALUES (?, ?, 'pending', ?, ?, ?, ?)
	`, id, clientTxID, total, string(encoded), now, now)
	if err != nil {
		return nil, fmt.Errorf("create receipt: %w", err)
	}

	return &Receipt{ID: id, ClientTxID: clientTxID, Status: ReceiptPending, Total: total, Lines: lines, CreatedAt: now, UpdatedAt: now}, nil
}

// ConfirmReceipt fills in the server-assigned identifiers once the sale is
// acknowledged.
func (db *ClientDB) ConfirmReceipt(clientTxID, saleID, receiptNumber string) error {
	_, err := db.conn.Exec(`
		UPDATE receipts
		SET sale_id = ?, receipt_number = ?, status = 'confirmed', updated_at = ?
		WHERE client_tx_id = ?
	`, saleID, receiptNumber, nowStamp(), clientTxID)
	if err != nil {
		return fmt.Errorf("confirm receipt: %w", err)
	}
	return nil
}

// RejectReceipt marks a receipt whose sale the server permanently refused.
func (db *ClientDB) RejectReceipt(clientTxID string) error {
	_, err := db.conn.Exec(`
		UPDATE receipts SET status = 'rejected', updated_at = ? WHERE client_tx_id = ?
	`, nowStamp(), clientTxID)
	if err != nil {
		return fmt.Errorf("reject receipt: %w", err)
	}
	return nil
}

// GetReceiptByClientTx returns the receipt for one sale transaction, or nil.
func (db *ClientDB) GetReceiptByClientTx(clientTxID string) (*Receipt, error) {
	var r Receipt
	var saleID, number sql.NullString
	var lines string
	err := db.conn.QueryRow(`
		SELECT id, client_tx_id, sale_id, receipt_number, status, total, lines, created_at, updated_at
		FROM receipts WHERE client_tx_id = ?
	`, clientTxID).Scan(&r.ID, &r.ClientTxID, &saleID, &number, &r.Status, &r.Total, &lines, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	r.SaleID = saleID.String
	r.ReceiptNumber = number.String
	if err := json.Unmarshal([]byte(lines), &r.Lines); err != nil {
		return nil, fmt.Errorf("decode receipt lines: %w", err)
	}
	return &r, nil
}

// ListReceipts returns recent receipts, newest first.
func (db *ClientDB) ListReceipts(limit int) ([]Receipt, error) {
	rows, err := db.conn.Query(`
		SELECT id, client_tx_id, sale_id, receipt_number, status, total, lines, created_at, updated_at
		FROM receipts ORDER BY created_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}
	defer rows.Close()

	var out []Receipt
	for rows.Next() {
		var r Receipt
		var saleID, number sql.NullString
		var lines string
		if err := rows.Scan(&r.ID, &r.ClientTxID, &saleID, &number, &r.Status, &r.Total, &lines, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		r.SaleID = saleID.String
		r.ReceiptNumber = number.String
		if err := json.Unmarshal([]byte(lines), &r.Lines); err != nil {
			return nil, fmt.Errorf("decode receipt lines: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
