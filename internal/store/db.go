package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const pragmas = "_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on"

// DB is the reference backend's SQLite database of participants,
// conversations, members and messages.
type DB struct {
	*sql.DB
	path string
}

// Open connects to the database at path. Foreign keys are enforced so that
// deleting a conversation cascades to its members and messages.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path+"?"+pragmas)
	if err != nil {
		return nil, fmt.Errorf("open db %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db %s: %w", path, err)
	}
	return &DB{DB: db, path: path}, nil
}

// Path returns the file the database was opened from.
func (db *DB) Path() string { return db.path }

// inTx runs fn inside a transaction, committing when it returns nil.
func (db *DB) inTx(what string, fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin %s: %w", what, err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", what, err)
	}
	return nil
}
