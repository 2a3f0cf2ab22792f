// Package sqlite implements the repository interfaces using SQLite as the storage backend.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary
// builds without a C toolchain. Use ":memory:" for tests.
//
// One *DB owns the connection pool; Users, Games and Quests return
// lightweight views over it, one per repository interface.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlitedrv "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DB wraps a sql.DB connection pool.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/quest.db" → file-based database (persistent)
//   - ":memory:"      → in-memory database, lost on close
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every new connection to ":memory:" is a separate, empty database, so
	// the pool is pinned to one connection.
	if dbPath == ":memory:" {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL allows concurrent readers while a write is in progress.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting busy timeout: %w", err)
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable. Used by /healthz.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) Users() *UserDB   { return &UserDB{conn: db.conn} }
func (db *DB) Games() *GameDB   { return &GameDB{conn: db.conn} }
func (db *DB) Quests() *QuestDB { return &QuestDB{conn: db.conn} }

// migrate creates the schema. CREATE ... IF NOT EXISTS makes it safe to
// run on every start.
//
// email and user_name compare case-insensitively (COLLATE NOCASE) and are
// UNIQUE, so the store rejects the losing insert of two concurrent
// registrations. user_name, password_hash and google_id are NULL for
// accounts that never set them; SQLite allows many NULLs under UNIQUE.
func (db *DB) migrate() error {
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            TEXT PRIMARY KEY,
			email         TEXT NOT NULL COLLATE NOCASE UNIQUE,
			user_name     TEXT COLLATE NOCASE UNIQUE,
			name          TEXT NOT NULL DEFAULT '',
			password_hash TEXT,
			google_id     TEXT UNIQUE,
			role          TEXT NOT NULL DEFAULT 'consumer'
			              CHECK (role IN ('consumer', 'moderator', 'administrator')),
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_users_created_at ON users(created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	// platforms, genres and tags hold JSON arrays of strings.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS games (
			id             TEXT PRIMARY KEY,
			title          TEXT NOT NULL,
			description    TEXT NOT NULL,
			image          TEXT NOT NULL,
			price          REAL NOT NULL,
			original_price REAL,
			discount       INTEGER NOT NULL DEFAULT 0,
			rating         REAL,
			platforms      TEXT NOT NULL DEFAULT '[]',
			genres         TEXT NOT NULL DEFAULT '[]',
			release_date   DATETIME,
			developer      TEXT NOT NULL DEFAULT '',
			publisher      TEXT NOT NULL DEFAULT '',
			tags           TEXT NOT NULL DEFAULT '[]',
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_games_price ON games(price);
	`)
	if err != nil {
		return fmt.Errorf("creating games table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS quests (
			id          TEXT PRIMARY KEY,
			title       TEXT NOT NULL,
			description TEXT NOT NULL,
			points      INTEGER NOT NULL,
			progress    INTEGER NOT NULL DEFAULT 0,
			total_steps INTEGER NOT NULL DEFAULT 1,
			icon_name   TEXT NOT NULL DEFAULT 'heart',
			type        TEXT NOT NULL CHECK (type IN ('DAILY', 'WEEKLY')),
			created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating quests table: %w", err)
	}

	return nil
}

// uniqueViolation returns the "table.column" named by a UNIQUE constraint
// failure, or "" if err is not one.
func uniqueViolation(err error) string {
	var se *sqlitedrv.Error
	if !errors.As(err, &se) || se.Code()&0xff != sqlite3.SQLITE_CONSTRAINT {
		return ""
	}
	msg := se.Error()
	_, after, ok := strings.Cut(msg, "UNIQUE constraint failed: ")
	if !ok {
		return ""
	}
	// "users.email (2067)" → "users.email"
	col, _, _ := strings.Cut(after, " ")
	return col
}

// nullString maps "" to SQL NULL.
func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
