package clientdb

// ClientSchemaVersion is the current device database schema version.
const ClientSchemaVersion = 1

type migration struct {
	Version int
	SQL     string
}

// clientMigrations are applied in order after the base schema.
var clientMigrations = []migration{}

const clientSchema = `
CREATE TABLE IF NOT EXISTS schema_info (
	version INTEGER NOT NULL
);

-- Outbound event queue. Rows are never rewritten into new events: the
-- event_id assigned at enqueue time is pushed verbatim on every retry so
-- the server can deduplicate replays.
CREATE TABLE IF NOT EXISTS event_queue (
	event_id TEXT PRIMARY KEY,
	store_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	client_tx_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	payload TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued'
		CHECK (status IN ('queued','pushing','applied','duplicate_ignored','failed_retry','failed_permanent')),
	attempt_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT,
	created_at_device TEXT NOT NULL,
	pushing_since TEXT,
	updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_queue_status ON event_queue(status, created_at_device);

-- Locally issued receipts for offline viewing and reprint. Filled in with
-- the server receipt number once the sale is acknowledged.
CREATE TABLE IF NOT EXISTS receipts (
	id TEXT PRIMARY KEY,
	client_tx_id TEXT NOT NULL UNIQUE,
	sale_id TEXT,
	receipt_number TEXT,
	status TEXT NOT NULL DEFAULT 'pending'
		CHECK (status IN ('pending','confirmed','rejected')),
	total INTEGER NOT NULL,
	lines TEXT NOT NULL,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

-- Read-only catalog cache, replaced row-by-row from pull responses.
CREATE TABLE IF NOT EXISTS cached_products (
	id TEXT PRIMARY KEY,
	snapshot TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cached_customers (
	id TEXT PRIMARY KEY,
	snapshot TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS cached_categories (
	id TEXT PRIMARY KEY,
	snapshot TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

-- Single-row sync bookkeeping: the pull cursor and the last settings
-- snapshot the server sent.
CREATE TABLE IF NOT EXISTS sync_state (
	id INTEGER PRIMARY KEY CHECK (id = 1),
	cursor TEXT NOT NULL DEFAULT '',
	settings TEXT,
	last_sync_at TEXT
);

CREATE TABLE IF NOT EXISTS sync_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	pushed INTEGER NOT NULL DEFAULT 0,
	applied INTEGER NOT NULL DEFAULT 0,
	duplicates INTEGER NOT NULL DEFAULT 0,
	failed INTEGER NOT NULL DEFAULT 0,
	pulled INTEGER NOT NULL DEFAULT 0,
	error TEXT
);
`
