package serverdb

// ServerSchemaVersion is the current schema version for fresh databases.
const ServerSchemaVersion = 1

// Migration is a single versioned schema change.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// Migrations lists schema changes beyond the base schema, in order.
var Migrations = []Migration{}

const serverSchema = `
CREATE TABLE IF NOT EXISTS stores (
	id                     TEXT PRIMARY KEY,
	name                   TEXT NOT NULL,
	receipt_prefix         TEXT NOT NULL DEFAULT 'R',
	receipt_counter        INTEGER NOT NULL DEFAULT 0,
	require_pin_for_void   INTEGER NOT NULL DEFAULT 1,
	require_pin_for_refund INTEGER NOT NULL DEFAULT 1,
	require_pin_for_stock  INTEGER NOT NULL DEFAULT 1,
	allow_negative_stock   INTEGER NOT NULL DEFAULT 0,
	owner_pin_hash         TEXT,
	created_at             TEXT NOT NULL,
	updated_at             TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	store_id   TEXT NOT NULL REFERENCES stores(id),
	name       TEXT NOT NULL,
	role       TEXT NOT NULL CHECK (role IN ('owner','manager','cashier')),
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS devices (
	id            TEXT PRIMARY KEY,
	store_id      TEXT NOT NULL REFERENCES stores(id),
	name          TEXT NOT NULL,
	registered_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS access_tokens (
	id         TEXT PRIMARY KEY,
	token_hash TEXT NOT NULL UNIQUE,
	user_id    TEXT NOT NULL REFERENCES users(id),
	store_id   TEXT NOT NULL REFERENCES stores(id),
	device_id  TEXT NOT NULL REFERENCES devices(id),
	role       TEXT NOT NULL,
	expires_at TEXT,
	revoked_at TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS categories (
	id         TEXT PRIMARY KEY,
	store_id   TEXT NOT NULL REFERENCES stores(id),
	name       TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_categories_store_updated ON categories(store_id, updated_at);

CREATE TABLE IF NOT EXISTS products (
	id                TEXT PRIMARY KEY,
	store_id          TEXT NOT NULL REFERENCES stores(id),
	category_id       TEXT REFERENCES categories(id),
	name              TEXT NOT NULL,
	barcode           TEXT,
	price             INTEGER NOT NULL DEFAULT 0,
	stock_quantity    INTEGER NOT NULL DEFAULT 0,
	pending_mutations TEXT NOT NULL DEFAULT '[]',
	updated_at        TEXT NOT NULL,
	deleted_at        TEXT,
	UNIQUE(store_id, barcode)
);
CREATE INDEX IF NOT EXISTS idx_products_store_updated ON products(store_id, updated_at);

CREATE TABLE IF NOT EXISTS customers (
	id         TEXT PRIMARY KEY,
	store_id   TEXT NOT NULL REFERENCES stores(id),
	name       TEXT NOT NULL,
	email      TEXT,
	phone      TEXT,
	updated_at TEXT NOT NULL,
	deleted_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_customers_store_updated ON customers(store_id, updated_at);

CREATE TABLE IF NOT EXISTS sales (
	id             TEXT PRIMARY KEY,
	store_id       TEXT NOT NULL REFERENCES stores(id),
	device_id      TEXT NOT NULL,
	client_tx_id   TEXT NOT NULL,
	receipt_number TEXT,
	customer_id    TEXT,
	status         TEXT NOT NULL CHECK (status IN ('parked','completed','voided')),
	total          INTEGER NOT NULL DEFAULT 0,
	refunded       INTEGER NOT NULL DEFAULT 0,
	note           TEXT,
	created_at     TEXT NOT NULL,
	updated_at     TEXT NOT NULL,
	UNIQUE(store_id, client_tx_id)
);

CREATE TABLE IF NOT EXISTS sale_lines (
	sale_id    TEXT NOT NULL REFERENCES sales(id),
	product_id TEXT NOT NULL,
	qty        INTEGER NOT NULL,
	unit_price INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sale_lines_sale ON sale_lines(sale_id);

CREATE TABLE IF NOT EXISTS payments (
	id         TEXT PRIMARY KEY,
	sale_id    TEXT NOT NULL REFERENCES sales(id),
	method     TEXT NOT NULL,
	amount     INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_payments_sale ON payments(sale_id);

CREATE TABLE IF NOT EXISTS refunds (
	id           TEXT PRIMARY KEY,
	store_id     TEXT NOT NULL REFERENCES stores(id),
	sale_id      TEXT NOT NULL REFERENCES sales(id),
	client_tx_id TEXT NOT NULL,
	amount       INTEGER NOT NULL,
	reason       TEXT,
	created_at   TEXT NOT NULL,
	UNIQUE(store_id, client_tx_id)
);

CREATE TABLE IF NOT EXISTS applied_events (
	event_id   TEXT PRIMARY KEY,
	store_id   TEXT NOT NULL,
	device_id  TEXT NOT NULL,
	event_type TEXT NOT NULL,
	status     TEXT NOT NULL,
	data       TEXT,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS stock_ledger (
	id             TEXT PRIMARY KEY,
	store_id       TEXT NOT NULL REFERENCES stores(id),
	product_id     TEXT NOT NULL REFERENCES products(id),
	reference_type TEXT NOT NULL,
	reference_id   TEXT NOT NULL,
	mutation_key   TEXT NOT NULL UNIQUE,
	delta_qty      INTEGER NOT NULL,
	prev_qty       INTEGER NOT NULL,
	resulting_qty  INTEGER NOT NULL,
	reason         TEXT,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_stock_ledger_product ON stock_ledger(store_id, product_id);
`
