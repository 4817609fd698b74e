package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// DB wraps the sql.DB connection
type DB struct {
	*sql.DB
}

// NewDB creates a new SQLite database connection
func NewDB(dbPath string) (*DB, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create db directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	return d.DB.Close()
}

// Snapshot writes a consistent copy of the database to path, which must not exist.
func (d *DB) Snapshot(path string) error {
	if _, err := d.Exec(`VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("failed to snapshot database: %w", err)
	}
	return nil
}

// InitSchema creates the local state tables and the CRM entity sets served by
// the offline gateway backend.
func (d *DB) InitSchema() error {
	if _, err := d.Exec(stateSchema); err != nil {
		return fmt.Errorf("failed to init state schema: %w", err)
	}
	if _, err := d.Exec(crmSchema); err != nil {
		return fmt.Errorf("failed to init crm schema: %w", err)
	}
	return nil
}

// InitStateSchema creates only the local state tables. Used when the CRM rows
// live in the hosted backend.
func (d *DB) InitStateSchema() error {
	if _, err := d.Exec(stateSchema); err != nil {
		return fmt.Errorf("failed to init state schema: %w", err)
	}
	return nil
}

const stateSchema = `
CREATE TABLE IF NOT EXISTS auth_users (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS calendar_sync (
	activity_id TEXT PRIMARY KEY,
	event_id TEXT NOT NULL,
	sync_key TEXT NOT NULL,
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS reminder_notifications (
	activity_id TEXT NOT NULL,
	reminder_date TEXT NOT NULL,
	channel TEXT NOT NULL,
	sent_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (activity_id, reminder_date, channel)
);
`

const crmSchema = `
CREATE TABLE IF NOT EXISTS leads (
	id TEXT PRIMARY KEY,
	name TEXT,
	company TEXT,
	phone TEXT,
	email TEXT,
	status TEXT DEFAULT 'new',
	notes TEXT,
	owner_id TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT,
	lead_id TEXT,
	status TEXT DEFAULT 'open',
	value REAL,
	notes TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS suppliers (
	id TEXT PRIMARY KEY,
	name TEXT,
	phone TEXT,
	email TEXT,
	notes TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS materials (
	id TEXT PRIMARY KEY,
	name TEXT,
	supplier_id TEXT,
	unit TEXT,
	price REAL,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	name TEXT,
	url TEXT,
	file_url TEXT,
	lead_id TEXT,
	project_id TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS activities (
	id TEXT PRIMARY KEY,
	title TEXT,
	subject TEXT,
	type TEXT,
	lead_id TEXT,
	lead_name TEXT,
	reminder_enabled INTEGER NOT NULL DEFAULT 0,
	reminder_date TEXT,
	reminder_time TEXT,
	completed INTEGER NOT NULL DEFAULT 0,
	notes TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS profiles (
	id TEXT PRIMARY KEY,
	email TEXT,
	full_name TEXT,
	phone TEXT,
	role TEXT NOT NULL DEFAULT 'member',
	updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS invites (
	id TEXT PRIMARY KEY,
	email TEXT NOT NULL,
	role TEXT NOT NULL DEFAULT 'member',
	token TEXT NOT NULL,
	invited_by TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);
`
