package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// schema is applied on every open; all statements are idempotent so there is
// no versioned migration machinery to maintain.
const schema = `
CREATE TABLE IF NOT EXISTS attendance_records (
	id           TEXT PRIMARY KEY,
	center_id    TEXT NOT NULL,
	code         TEXT NOT NULL,
	student_id   TEXT NOT NULL DEFAULT '',
	student_name TEXT NOT NULL DEFAULT '',
	created_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_attendance_records_created_at
	ON attendance_records (created_at DESC);

CREATE TABLE IF NOT EXISTS students (
	student_id    TEXT PRIMARY KEY,
	student_code  TEXT NOT NULL DEFAULT '',
	student_name  TEXT NOT NULL DEFAULT '',
	student_group TEXT NOT NULL DEFAULT '',
	phone_number  TEXT NOT NULL DEFAULT '',
	parent_phone1 TEXT NOT NULL DEFAULT '',
	parent_phone2 TEXT NOT NULL DEFAULT '',
	created_at    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_students_student_code ON students (student_code);
CREATE INDEX IF NOT EXISTS idx_students_phone_number ON students (phone_number);

CREATE TABLE IF NOT EXISTS centers (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
`

// DB wraps the on-device SQLite database.
type DB struct {
	Client *sql.DB
}

// Open opens (or creates) the local database file and ensures the schema exists.
func Open(path string) (*DB, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("database path is required")
	}

	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	// modernc sqlite is single-writer; one connection avoids SQLITE_BUSY churn.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &DB{Client: db}, nil
}

// Close closes the underlying connection.
func (d *DB) Close() error {
	if d == nil || d.Client == nil {
		return nil
	}
	return d.Client.Close()
}
