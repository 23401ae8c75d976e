package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// openDB opens a SQLite database at path and configures it for the
// single-writer access pattern the rest of the package assumes (WAL mode,
// foreign keys enabled, exactly one open connection). Use ":memory:" for
// an in-memory database in tests.
func openDB(path string) (*sql.DB, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	// SQLite only supports a single writer at a time; the Store's own
	// transaction mutex assumes this connection never hands out a second
	// concurrent connection underneath it.
	db.SetMaxOpenConns(1)

	return db, nil
}
