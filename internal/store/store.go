// Package store implements the single-writer embedded database that holds
// all durable state for the ad index watcher: ad queries, clients, their
// subscriptions, the push queue, and the ad content/text ledgers. Every
// exported method runs as one transaction under a process-wide mutex; the
// package never exposes the underlying *sql.DB.
package store

import (
	"database/sql"
	"sync"
	"time"
)

// Store is the watcher's sole mutable state. All access funnels through
// mu, matching the engine's single-writer contract: the database supports
// exactly one writer, so the package does not pretend otherwise with a
// reader/writer split.
type Store struct {
	db *sql.DB
	mu sync.Mutex

	// Clock returns the current time as integer seconds since the Unix
	// epoch UTC. It defaults to the real clock; tests that exercise
	// time-windowed invariants (text expiration, notify throttling,
	// session expiry) override it directly.
	Clock func() int64
}

// Open opens the database at path, runs pending migrations, and returns a
// ready Store. Use ":memory:" for an ephemeral database in tests.
func Open(path string) (*Store, error) {
	db, err := openDB(path)
	if err != nil {
		return nil, err
	}

	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{
		db:    db,
		Clock: func() int64 { return time.Now().Unix() },
	}, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) now() int64 {
	return s.Clock()
}
