// Package clientdb is the durable local store for a point-of-sale device:
// the outbound event queue, the cached catalog pulled from the server, and
// the sync bookkeeping that survives restarts and crashes.
package clientdb

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	dbFile = "till.db"

	// timeFormat is fixed-width UTC so stored stamps sort lexicographically.
	timeFormat = "2006-01-02 15:04:05.000000000"
)

// ClientDB wraps the device-local database connection.
type ClientDB struct {
	conn    *sql.DB
	baseDir string

	// notify wakes the sync orchestrator when new work is enqueued.
	// Buffered size 1; sends never block.
	notify chan struct{}
}

// Open opens an existing device database and runs any pending migrations.
func Open(baseDir string) (*ClientDB, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("database not found: run 'till init' first")
	}

	return open(dbPath, baseDir)
}

// Initialize creates the device database and runs migrations.
func Initialize(baseDir string) (*ClientDB, error) {
	dbPath := filepath.Join(baseDir, dbFile)

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	return open(dbPath, baseDir)
}

func open(dbPath, baseDir string) (*ClientDB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// WAL keeps reads (receipt lookups, catalog queries) concurrent with
	// the sync writer.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	conn.Exec("PRAGMA synchronous=NORMAL")
	conn.Exec("PRAGMA foreign_keys=ON")

	db := &ClientDB{conn: conn, baseDir: baseDir, notify: make(chan struct{}, 1)}

	if err := db.RunMigrations(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// OpenConn wraps an existing connection. Used by tests with in-memory
// databases.
func OpenConn(conn *sql.DB) (*ClientDB, error) {
	db := &ClientDB{conn: conn, notify: make(chan struct{}, 1)}
	if err := db.RunMigrations(); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return db, nil
}

// Notifications returns a channel that receives a wakeup whenever new
// events are enqueued. At most one wakeup is buffered.
func (db *ClientDB) Notifications() <-chan struct{} {
	return db.notify
}

// Conn returns the underlying *sql.DB connection.
func (db *ClientDB) Conn() *sql.DB {
	return db.conn
}

// Close closes the database connection.
func (db *ClientDB) Close() error {
	return db.conn.Close()
}

// RunMigrations creates the schema if absent and applies pending migrations.
func (db *ClientDB) RunMigrations() error {
	if _, err := db.conn.Exec(clientSchema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}

	var version int
	if err := db.conn.QueryRow("SELECT version FROM schema_info").Scan(&version); err == sql.ErrNoRows {
		if _, err := db.conn.Exec("INSERT INTO schema_info (version) VALUES (?)", ClientSchemaVersion); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for _, m := range clientMigrations {
		if m.Version <= version {
			continue
		}
		if _, err := db.conn.Exec(m.SQL); err != nil {
			return fmt.Errorf("migration %d: %w", m.Version, err)
		}
		if _, err := db.conn.Exec("UPDATE schema_info SET version = ?", m.Version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
	}
	return nil
}

// generateID returns a prefixed random identifier, e.g. "rcpt-a1b2c3d4".
func generateID(prefix string) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}
	return prefix + hex.EncodeToString(buf), nil
}

func nowStamp() string {
	return time.Now().UTC().Format(timeFormat)
}

func formatStamp(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseStamp(s string) (time.Time, error) {
	for _, layout := range []string{timeFormat, time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
