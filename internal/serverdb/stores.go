package serverdb

import (
	"database/sql"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// StoreSettings is the store row as seen by the sync engine: PIN gating
// flags, the negative-stock policy, and receipt numbering.
type StoreSettings struct {
	ID                  string `json:"store_id"`
	Name                string `json:"name"`
	ReceiptPrefix       string `json:"receipt_prefix"`
	RequirePinForVoid   bool   `json:"require_pin_for_void"`
	RequirePinForRefund bool   `json:"require_pin_for_refund"`
	RequirePinForStock  bool   `json:"require_pin_for_stock"`
	AllowNegativeStock  bool   `json:"allow_negative_stock"`
	UpdatedAt           string `json:"updated_at"`

	// OwnerPinHash stays server-side; it is never serialized to clients.
	OwnerPinHash string `json:"-"`
}

// CreateStore creates a store and returns its id.
func (db *ServerDB) CreateStore(name string) (string, error) {
	id := mustID("st_")
	now := nowStamp()
	_, err := db.conn.Exec(
		`INSERT INTO stores (id, name, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		id, name, now, now,
	)
	if err != nil {
		return "", fmt.Errorf("insert store: %w", err)
	}
	return id, nil
}

// GetStore returns the settings for a store, or nil if it does not exist.
func (db *ServerDB) GetStore(storeID string) (*StoreSettings, error) {
	var s StoreSettings
	var pinHash sql.NullString
	var reqVoid, reqRefund, reqStock, allowNeg int
	err := db.conn.QueryRow(
		`SELECT id, name, receipt_prefix, require_pin_for_void, require_pin_for_refund,
		        require_pin_for_stock, allow_negative_stock, owner_pin_hash, updated_at
		 FROM stores WHERE id = ?`, storeID,
	).Scan(&s.ID, &s.Name, &s.ReceiptPrefix, &reqVoid, &reqRefund, &reqStock, &allowNeg, &pinHash, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get store: %w", err)
	}
	s.RequirePinForVoid = reqVoid != 0
	s.RequirePinForRefund = reqRefund != 0
	s.RequirePinForStock = reqStock != 0
	s.AllowNegativeStock = allowNeg != 0
	s.OwnerPinHash = pinHash.String
	return &s, nil
}

// UpdateStoreSettings rewrites the gating flags and receipt prefix.
func (db *ServerDB) UpdateStoreSettings(s *StoreSettings) error {
	res, err := db.conn.Exec(
		`UPDATE stores SET name = ?, receipt_prefix = ?, require_pin_for_void = ?,
		        require_pin_for_refund = ?, require_pin_for_stock = ?, allow_negative_stock = ?,
		        updated_at = ?
		 WHERE id = ?`,
		s.Name, s.ReceiptPrefix, boolInt(s.RequirePinForVoid), boolInt(s.RequirePinForRefund),
		boolInt(s.RequirePinForStock), boolInt(s.AllowNegativeStock), nowStamp(), s.ID,
	)
	if err != nil {
		return fmt.Errorf("update store: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store not found: %s", s.ID)
	}
	return nil
}

// SetOwnerPIN hashes and stores the owner PIN for a store.
func (db *ServerDB) SetOwnerPIN(storeID, pin string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash pin: %w", err)
	}
	res, err := db.conn.Exec(
		`UPDATE stores SET owner_pin_hash = ?, updated_at = ? WHERE id = ?`,
		string(hash), nowStamp(), storeID,
	)
	if err != nil {
		return fmt.Errorf("set pin: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store not found: %s", storeID)
	}
	return nil
}

// CheckOwnerPIN verifies a PIN proof against the stored hash.
func (s *StoreSettings) CheckOwnerPIN(pin string) bool {
	if s.OwnerPinHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(s.OwnerPinHash), []byte(pin)) == nil
}

// NextReceiptNumber increments the store's receipt counter and returns
// the formatted receipt number.
func (db *ServerDB) NextReceiptNumber(storeID string) (string, error) {
	var prefix string
	var counter int64
	err := db.conn.QueryRow(
		`UPDATE stores SET receipt_counter = receipt_counter + 1, updated_at = ?
		 WHERE id = ?
		 RETURNING receipt_prefix, receipt_counter`,
		nowStamp(), storeID,
	).Scan(&prefix, &counter)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("store not found: %s", storeID)
	}
	if err != nil {
		return "", fmt.Errorf("next receipt number: %w", err)
	}
	return fmt.Sprintf("%s-%06d", prefix, counter), nil
}

// CreateUser creates a user in a store with the given role.
func (db *ServerDB) CreateUser(storeID, name string, role Role) (string, error) {
	id := mustID("u_")
	_, err := db.conn.Exec(
		`INSERT INTO users (id, store_id, name, role, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, storeID, name, string(role), nowStamp(),
	)
	if err != nil {
		return "", fmt.Errorf("insert user: %w", err)
	}
	return id, nil
}

// RegisterDevice registers a device for a store.
func (db *ServerDB) RegisterDevice(storeID, deviceID, name string) error {
	_, err := db.conn.Exec(
		`INSERT OR IGNORE INTO devices (id, store_id, name, registered_at) VALUES (?, ?, ?, ?)`,
		deviceID, storeID, name, nowStamp(),
	)
	if err != nil {
		return fmt.Errorf("register device: %w", err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
