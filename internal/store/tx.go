package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/adindex/adindex/internal/apierr"
	"github.com/adindex/adindex/internal/metrics"
)

// withTx runs fn inside a transaction, guarded by the Store's single
// serialization mutex. On commit it returns fn's result; on any error it
// rolls back. Transient "database is locked" contention is retried with a
// short backoff; the whole transaction is re-run from scratch. No other
// error is retried, and retry never crosses the mutex boundary — the lock
// is held for the duration of one attempt only, never across attempts.
func withTx[T any](ctx context.Context, s *Store, fn func(tx *sql.Tx) (T, error)) (T, error) {
	var zero T

	op := func() (T, error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			if isTransient(err) {
				metrics.StoreTxRetriesTotal.Inc()
				return zero, apierr.Transient(err)
			}
			return zero, backoff.Permanent(err)
		}

		result, err := fn(tx)
		if err != nil {
			_ = tx.Rollback()
			if isTransient(err) {
				metrics.StoreTxRetriesTotal.Inc()
				return zero, apierr.Transient(err)
			}
			return zero, backoff.Permanent(err)
		}

		if err := tx.Commit(); err != nil {
			if isTransient(err) {
				metrics.StoreTxRetriesTotal.Inc()
				return zero, apierr.Transient(err)
			}
			return zero, backoff.Permanent(err)
		}

		return result, nil
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2

	return backoff.Retry(ctx, op, backoff.WithBackOff(b), backoff.WithMaxTries(20),
		backoff.WithMaxElapsedTime(2*time.Second))
}

// isTransient reports whether err (possibly already wrapped) indicates
// SQLite lock contention rather than a genuine failure.
func isTransient(err error) bool {
	if apierr.IsTransient(err) {
		return true
	}
	var sqliteErr interface{ Error() string }
	if errors.As(err, &sqliteErr) {
		msg := strings.ToLower(sqliteErr.Error())
		return strings.Contains(msg, "database is locked") || strings.Contains(msg, "busy")
	}
	return false
}
