package serverdb

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"
)

const (
	tokenPrefix = "tl_live_"
	tokenLength = 32
)

var base62Chars = []byte("0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz")

// TokenIdentity is the binding carried by a verified access token.
// Every push/pull request is checked against StoreID and DeviceID.
type TokenIdentity struct {
	TokenID  string
	UserID   string
	StoreID  string
	DeviceID string
	Role     Role
}

// IssueToken creates a device-bound access token for a user.
// Returns the plaintext token, shown once and stored only as a hash.
func (db *ServerDB) IssueToken(userID, storeID, deviceID string, expiresAt *time.Time) (string, error) {
	var role string
	err := db.conn.QueryRow(`SELECT role FROM users WHERE id = ? AND store_id = ?`, userID, storeID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("user %s not found in store %s", userID, storeID)
	}
	if err != nil {
		return "", fmt.Errorf("look up user: %w", err)
	}

	var exists int
	err = db.conn.QueryRow(`SELECT 1 FROM devices WHERE id = ? AND store_id = ?`, deviceID, storeID).Scan(&exists)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("device %s not registered for store %s", deviceID, storeID)
	}
	if err != nil {
		return "", fmt.Errorf("look up device: %w", err)
	}

	secret := make([]byte, tokenLength)
	for i := range secret {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(base62Chars))))
		if err != nil {
			return "", fmt.Errorf("generate token: %w", err)
		}
		secret[i] = base62Chars[n.Int64()]
	}
	plaintext := tokenPrefix + string(secret)

	hash := sha256.Sum256([]byte(plaintext))
	var expires any
	if expiresAt != nil {
		expires = FormatStamp(*expiresAt)
	}

	_, err = db.conn.Exec(
		`INSERT INTO access_tokens (id, token_hash, user_id, store_id, device_id, role, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		mustID("tk_"), hex.EncodeToString(hash[:]), userID, storeID, deviceID, role, expires, nowStamp(),
	)
	if err != nil {
		return "", fmt.Errorf("insert token: %w", err)
	}
	return plaintext, nil
}

// VerifyToken resolves a plaintext token to its identity.
// Returns nil (no error) for unknown, revoked, or expired tokens.
func (db *ServerDB) VerifyToken(plaintext string) (*TokenIdentity, error) {
	hash := sha256.Sum256([]byte(plaintext))

	var id TokenIdentity
	var role string
	var expiresAt, revokedAt sql.NullString
	err := db.conn.QueryRow(
		`SELECT id, user_id, store_id, device_id, role, expires_at, revoked_at
		 FROM access_tokens WHERE token_hash = ?`,
		hex.EncodeToString(hash[:]),
	).Scan(&id.TokenID, &id.UserID, &id.StoreID, &id.DeviceID, &role, &expiresAt, &revokedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("look up token: %w", err)
	}

	if revokedAt.Valid {
		return nil, nil
	}
	if expiresAt.Valid {
		exp, err := ParseStamp(expiresAt.String)
		if err != nil || time.Now().UTC().After(exp) {
			return nil, nil
		}
	}

	id.Role = Role(role)
	return &id, nil
}

// RevokeToken marks a token unusable. Idempotent.
func (db *ServerDB) RevokeToken(tokenID string) error {
	_, err := db.conn.Exec(
		`UPDATE access_tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		nowStamp(), tokenID,
	)
	if err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
