package serverdb

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"

	"github.com/harper/till/internal/syncerr"
)

// LedgerEntry is one immutable inventory delta. The ledger, not the
// product row, is the system of record for "did this mutation happen".
type LedgerEntry struct {
	ID            string
	StoreID       string
	ProductID     string
	ReferenceType string
	ReferenceID   string
	MutationKey   string
	DeltaQty      int64
	PrevQty       int64
	ResultingQty  int64
	Reason        string
	CreatedAt     string
}

// StockMutation describes one inventory delta to apply.
type StockMutation struct {
	StoreID       string
	ProductID     string
	DeltaQty      int64
	Reason        string
	ReferenceType string // sale, void_sale, refund, adjustment, restock
	ReferenceID   string
}

// Key derives the idempotency boundary for this mutation: the same
// logical mutation always produces the same key no matter how many
// times the carrying event is retried.
func (m StockMutation) Key() string {
	return strings.Join([]string{m.StoreID, m.ProductID, m.ReferenceType, m.ReferenceID}, "::")
}

// GetLedgerEntry returns the ledger row for a mutation key, or nil.
func (db *ServerDB) GetLedgerEntry(mutationKey string) (*LedgerEntry, error) {
	var e LedgerEntry
	var reason sql.NullString
	err := db.conn.QueryRow(
		`SELECT id, store_id, product_id, reference_type, reference_id, mutation_key,
		        delta_qty, prev_qty, resulting_qty, reason, created_at
		 FROM stock_ledger WHERE mutation_key = ?`, mutationKey,
	).Scan(&e.ID, &e.StoreID, &e.ProductID, &e.ReferenceType, &e.ReferenceID, &e.MutationKey,
		&e.DeltaQty, &e.PrevQty, &e.ResultingQty, &reason, &e.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ledger entry: %w", err)
	}
	e.Reason = reason.String
	return &e, nil
}

// ApplyStockMutation applies one inventory delta exactly once, tolerating
// a crash at any point between its phases. Safe to retry with identical
// arguments; the mutation key absorbs duplicate deliveries.
//
// Phase 1 writes the new quantity and the pending marker in one update.
// Phase 2 appends the immutable ledger row. Phase 3 clears the marker,
// best-effort: a marker that outlives phase 2 only causes the next call
// to skip straight to the ledger append.
func (db *ServerDB) ApplyStockMutation(m StockMutation, allowNegative bool) (*LedgerEntry, error) {
	key := m.Key()

	// Already applied: return the recorded result. If the product row
	// has drifted from the ledger, correct it; the ledger wins.
	if entry, err := db.GetLedgerEntry(key); err != nil {
		return nil, err
	} else if entry != nil {
		p, err := db.GetProduct(m.StoreID, m.ProductID)
		if err != nil {
			return nil, err
		}
		if p != nil && p.StockQuantity != entry.ResultingQty && !db.hasLaterEntry(m.StoreID, m.ProductID, entry.CreatedAt) {
			if err := db.setQuantity(m.StoreID, m.ProductID, entry.ResultingQty); err != nil {
				slog.Warn("self-heal quantity", "product", m.ProductID, "err", err)
			}
		}
		if p != nil && p.hasPendingMutation(key) {
			if err := db.clearPendingMutation(m.StoreID, m.ProductID, key); err != nil {
				slog.Warn("clear stale pending marker", "key", key, "err", err)
			}
		}
		return entry, nil
	}

	p, err := db.GetProduct(m.StoreID, m.ProductID)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, syncerr.NotFound("product %s", m.ProductID)
	}

	var resulting int64
	if p.hasPendingMutation(key) {
		// Prior attempt crashed between phase 1 and phase 2: quantity is
		// already updated, only the ledger append is missing.
		resulting = p.StockQuantity
	} else {
		resulting = p.StockQuantity + m.DeltaQty
		if resulting < 0 && !allowNegative {
			return nil, syncerr.BusinessRule("NEGATIVE_STOCK",
				"product %s: %d%+d would be negative", m.ProductID, p.StockQuantity, m.DeltaQty)
		}
		markers := append(append([]string{}, p.PendingMutations...), key)
		if err := db.setQuantityWithMarker(m.StoreID, m.ProductID, resulting, markers); err != nil {
			return nil, err
		}
	}

	entry := &LedgerEntry{
		ID:            mustID("sm_"),
		StoreID:       m.StoreID,
		ProductID:     m.ProductID,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		MutationKey:   key,
		DeltaQty:      m.DeltaQty,
		PrevQty:       resulting - m.DeltaQty,
		ResultingQty:  resulting,
		Reason:        m.Reason,
		CreatedAt:     nowStamp(),
	}
	_, err = db.conn.Exec(
		`INSERT OR IGNORE INTO stock_ledger
		 (id, store_id, product_id, reference_type, reference_id, mutation_key,
		  delta_qty, prev_qty, resulting_qty, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.StoreID, entry.ProductID, entry.ReferenceType, entry.ReferenceID,
		entry.MutationKey, entry.DeltaQty, entry.PrevQty, entry.ResultingQty, entry.Reason, entry.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("append ledger row: %w", err)
	}

	if err := db.clearPendingMutation(m.StoreID, m.ProductID, key); err != nil {
		slog.Warn("clear pending marker", "key", key, "err", err)
	}

	return entry, nil
}

// hasLaterEntry reports whether the product has ledger rows newer than
// createdAt, in which case an old entry's resulting_qty is not the
// current truth and must not be used for self-healing.
func (db *ServerDB) hasLaterEntry(storeID, productID, createdAt string) bool {
	var n int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM stock_ledger WHERE store_id = ? AND product_id = ? AND created_at > ?`,
		storeID, productID, createdAt,
	).Scan(&n)
	if err != nil {
		return true // unknown, do not self-heal
	}
	return n > 0
}

// LedgerHistory returns the ledger rows for a product, newest first.
func (db *ServerDB) LedgerHistory(storeID, productID string, limit int) ([]LedgerEntry, error) {
	rows, err := db.conn.Query(
		`SELECT id, store_id, product_id, reference_type, reference_id, mutation_key,
		        delta_qty, prev_qty, resulting_qty, reason, created_at
		 FROM stock_ledger WHERE store_id = ? AND product_id = ?
		 ORDER BY created_at DESC LIMIT ?`,
		storeID, productID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query ledger: %w", err)
	}
	defer rows.Close()

	var entries []LedgerEntry
	for rows.Next() {
		var e LedgerEntry
		var reason sql.NullString
		if err := rows.Scan(&e.ID, &e.StoreID, &e.ProductID, &e.ReferenceType, &e.ReferenceID,
			&e.MutationKey, &e.DeltaQty, &e.PrevQty, &e.ResultingQty, &reason, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		e.Reason = reason.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
