// Package cache implements the persistent per-profile message cache: it
// stores chats, messages, contacts, and reactions in an embedded SQLite
// database, answers GetMessages from local storage whenever possible,
// deduplicates and reorders adapter notifications, and fronts the adapter
// so repeated history reads never touch the network.
package cache

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for the cache store.
)

// schemaVersion is the current cache schema. A mismatch on open aborts
// rather than silently reinterpreting rows, per the core spec.
const schemaVersion = 1

// schema is the DDL executed on every open (idempotent via IF NOT EXISTS),
// following the single-const-block convention of the reference
// application's central database.
const schema = `
CREATE TABLE IF NOT EXISTS schema_meta (
    id      INTEGER PRIMARY KEY CHECK (id = 1),
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS contacts (
    id      TEXT PRIMARY KEY,
    name    TEXT NOT NULL DEFAULT '',
    phone   TEXT NOT NULL DEFAULT '',
    is_self INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS chats (
    id                TEXT PRIMARY KEY,
    is_unread         INTEGER NOT NULL DEFAULT 0,
    is_unread_mention INTEGER NOT NULL DEFAULT 0,
    is_muted          INTEGER NOT NULL DEFAULT 0,
    is_pinned         INTEGER NOT NULL DEFAULT 0,
    last_message_time INTEGER NOT NULL DEFAULT 0,
    oldest_known      INTEGER NOT NULL DEFAULT 0,
    newest_known      INTEGER NOT NULL DEFAULT 0,
    has_oldest        INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS messages (
    chat_id       TEXT NOT NULL,
    id            TEXT NOT NULL,
    sender_id     TEXT NOT NULL DEFAULT '',
    text          TEXT NOT NULL DEFAULT '',
    quoted_id     TEXT NOT NULL DEFAULT '',
    quoted_text   TEXT NOT NULL DEFAULT '',
    quoted_sender TEXT NOT NULL DEFAULT '',
    file_info     TEXT NOT NULL DEFAULT '',
    time_sent     INTEGER NOT NULL,
    is_outgoing   INTEGER NOT NULL DEFAULT 0,
    is_read       INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (chat_id, id)
);
CREATE INDEX IF NOT EXISTS idx_messages_time ON messages(chat_id, time_sent);

CREATE TABLE IF NOT EXISTS reactions (
    chat_id   TEXT NOT NULL,
    msg_id    TEXT NOT NULL,
    sender_id TEXT NOT NULL,
    emoji     TEXT NOT NULL,
    PRIMARY KEY (chat_id, msg_id, sender_id)
);
`

// openDB opens (or creates) the cache database at path and validates its
// schema_meta row. WAL mode trades a little write latency for readers
// (the UI) that never block behind the cache writer.
func openDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("cache: create dir %q: %w", dir, err)
		}
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("cache: open %q: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: ping %q: %w", path, err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: create schema: %w", err)
	}

	if err := checkSchemaVersion(db); err != nil {
		db.Close()
		return nil, err
	}

	return db, nil
}

func checkSchemaVersion(db *sql.DB) error {
	var on int
	err := db.QueryRow(`SELECT version FROM schema_meta WHERE id = 1`).Scan(&on)
	if err == sql.ErrNoRows {
		_, err = db.Exec(`INSERT INTO schema_meta (id, version) VALUES (1, ?)`, schemaVersion)
		if err != nil {
			return fmt.Errorf("cache: write schema_meta: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("cache: read schema_meta: %w", err)
	}
	if on != schemaVersion {
		return fmt.Errorf("cache: schema version mismatch: db has %d, binary expects %d (no migration available)", on, schemaVersion)
	}
	return nil
}
