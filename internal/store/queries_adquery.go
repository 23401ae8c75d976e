package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/adindex/adindex/internal/apierr"
)

// AdQueries lists ad queries, annotated with whether the client matching
// sessionID is subscribed to each. If sessionID matches no client, every
// row reports Subscribed=false. If adQueryID is non-nil, only that query
// is returned.
func (s *Store) AdQueries(ctx context.Context, sessionID string, adQueryID *int64) ([]AdQueryRecord, error) {
	return withTx(ctx, s, func(tx *sql.Tx) ([]AdQueryRecord, error) {
		clientID, _ := lookupClientID(tx, sessionID)

		query := `SELECT ad_query_id, nickname, query, filters FROM ad_queries`
		args := []any{}
		if adQueryID != nil {
			query += ` WHERE ad_query_id = ?`
			args = append(args, *adQueryID)
		}
		query += ` ORDER BY ad_query_id`

		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []AdQueryRecord
		for rows.Next() {
			var rec AdQueryRecord
			var filtersJSON string
			if err := rows.Scan(&rec.AdQueryID, &rec.Nickname, &rec.Query, &filtersJSON); err != nil {
				return nil, err
			}
			rec.Filters, err = decodeFilters(filtersJSON)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		if clientID != 0 {
			for i := range out {
				subscribed, err := hasSubscription(tx, out[i].AdQueryID, clientID)
				if err != nil {
					return nil, err
				}
				out[i].Subscribed = subscribed
			}
		}

		return out, nil
	})
}

// InsertAdQuery creates a new ad query. If subSessionID is non-nil, the
// matching client is subscribed in the same transaction; if no client
// matches, nothing is written and the returned id is nil.
func (s *Store) InsertAdQuery(ctx context.Context, nickname, query string, filters []string, subSessionID *string) (*int64, error) {
	return withTx(ctx, s, func(tx *sql.Tx) (*int64, error) {
		var clientID int64
		if subSessionID != nil {
			id, ok := lookupClientID(tx, *subSessionID)
			if !ok {
				return nil, nil
			}
			clientID = id
		}

		filtersJSON, err := json.Marshal(filters)
		if err != nil {
			return nil, err
		}

		now := s.now()
		res, err := tx.ExecContext(ctx,
			`INSERT INTO ad_queries (nickname, query, filters, next_pull) VALUES (?, ?, ?, ?)`,
			nickname, query, string(filtersJSON), now)
		if err != nil {
			if isUniqueViolation(err) {
				return nil, apierr.DataArgument("name is already in use")
			}
			return nil, err
		}

		id, err := res.LastInsertId()
		if err != nil {
			return nil, err
		}

		if subSessionID != nil {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO client_subscriptions (ad_query_id, client_id) VALUES (?, ?)`,
				id, clientID); err != nil {
				return nil, err
			}
		}

		return &id, nil
	})
}

// UpdateAdQueryResult is the outcome of UpdateAdQuery.
type UpdateAdQueryResult struct {
	UpdatedData bool
	UpdatedSub  bool
}

// UpdateAdQuery atomically updates a query's nickname/query/filters
// (resetting next_pull and clearing last_notify), then upserts or removes
// the subscription edge for sessionID to match subscribed.
func (s *Store) UpdateAdQuery(ctx context.Context, adQueryID int64, nickname, query string, filters []string, subscribed bool, sessionID string) (UpdateAdQueryResult, error) {
	return withTx(ctx, s, func(tx *sql.Tx) (UpdateAdQueryResult, error) {
		filtersJSON, err := json.Marshal(filters)
		if err != nil {
			return UpdateAdQueryResult{}, err
		}

		now := s.now()
		res, err := tx.ExecContext(ctx,
			`UPDATE ad_queries SET nickname = ?, query = ?, filters = ?, next_pull = ?, last_notify = NULL WHERE ad_query_id = ?`,
			nickname, query, string(filtersJSON), now, adQueryID)
		if err != nil {
			if isUniqueViolation(err) {
				return UpdateAdQueryResult{}, apierr.DataArgument("name is already in use")
			}
			return UpdateAdQueryResult{}, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return UpdateAdQueryResult{}, err
		}
		if n == 0 {
			return UpdateAdQueryResult{}, apierr.NotFound("ad query not found")
		}

		clientID, ok := lookupClientID(tx, sessionID)
		if !ok {
			return UpdateAdQueryResult{UpdatedData: true}, nil
		}

		if subscribed {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO client_subscriptions (ad_query_id, client_id) VALUES (?, ?)
				 ON CONFLICT(ad_query_id, client_id) DO NOTHING`,
				adQueryID, clientID); err != nil {
				return UpdateAdQueryResult{}, err
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM client_subscriptions WHERE ad_query_id = ? AND client_id = ?`,
				adQueryID, clientID); err != nil {
				return UpdateAdQueryResult{}, err
			}
		}

		return UpdateAdQueryResult{UpdatedData: true, UpdatedSub: true}, nil
	})
}

// AdQueryNext leases the due query with the smallest next_pull < now,
// bumping its next_pull by refreshInterval in the same transaction. Returns
// nil if no query is due.
func (s *Store) AdQueryNext(ctx context.Context, refreshInterval int64) (*AdQuery, error) {
	return withTx(ctx, s, func(tx *sql.Tx) (*AdQuery, error) {
		now := s.now()

		row := tx.QueryRowContext(ctx,
			`SELECT ad_query_id, nickname, query, filters, next_pull, last_pull, last_error, last_notify
			 FROM ad_queries WHERE next_pull < ? ORDER BY next_pull ASC LIMIT 1`, now)

		var q AdQuery
		var filtersJSON string
		err := row.Scan(&q.AdQueryID, &q.Nickname, &q.Query, &filtersJSON, &q.NextPull, &q.LastPull, &q.LastError, &q.LastNotify)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		q.Filters, err = decodeFilters(filtersJSON)
		if err != nil {
			return nil, err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE ad_queries SET next_pull = ? WHERE ad_query_id = ?`,
			now+refreshInterval, q.AdQueryID); err != nil {
			return nil, err
		}

		return &q, nil
	})
}

// AdQueryFinishedPull records the outcome of a completed pull attempt.
func (s *Store) AdQueryFinishedPull(ctx context.Context, adQueryID int64, pullErr *string) error {
	_, err := withTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		_, err := tx.ExecContext(ctx,
			`UPDATE ad_queries SET last_pull = ?, last_error = ? WHERE ad_query_id = ?`,
			s.now(), pullErr, adQueryID)
		return struct{}{}, err
	})
	return err
}

// AdQueryStatus returns the full record including scheduler metadata and
// the subscribed flag for sessionID.
func (s *Store) AdQueryStatus(ctx context.Context, sessionID string, adQueryID int64) (*AdQueryStatus, error) {
	return withTx(ctx, s, func(tx *sql.Tx) (*AdQueryStatus, error) {
		row := tx.QueryRowContext(ctx,
			`SELECT ad_query_id, nickname, query, filters, next_pull, last_pull, last_error, last_notify
			 FROM ad_queries WHERE ad_query_id = ?`, adQueryID)

		var st AdQueryStatus
		var filtersJSON string
		err := row.Scan(&st.AdQueryID, &st.Nickname, &st.Query, &filtersJSON, &st.NextPull, &st.LastPull, &st.LastError, &st.LastNotify)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apierr.NotFound("ad query not found")
		}
		if err != nil {
			return nil, err
		}
		st.Filters, err = decodeFilters(filtersJSON)
		if err != nil {
			return nil, err
		}

		if clientID, ok := lookupClientID(tx, sessionID); ok {
			subscribed, err := hasSubscription(tx, adQueryID, clientID)
			if err != nil {
				return nil, err
			}
			st.Subscribed = subscribed
		}

		return &st, nil
	})
}

// ToggleAdQuerySubscription upserts or removes the subscription edge
// between sessionID's client and adQueryID. Returns false if either
// identifier is unknown.
func (s *Store) ToggleAdQuerySubscription(ctx context.Context, adQueryID int64, sessionID string, subscribed bool) (bool, error) {
	return withTx(ctx, s, func(tx *sql.Tx) (bool, error) {
		clientID, ok := lookupClientID(tx, sessionID)
		if !ok {
			return false, nil
		}

		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM ad_queries WHERE ad_query_id = ?`, adQueryID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, nil
			}
			return false, err
		}

		if subscribed {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO client_subscriptions (ad_query_id, client_id) VALUES (?, ?)
				 ON CONFLICT(ad_query_id, client_id) DO NOTHING`,
				adQueryID, clientID); err != nil {
				return false, err
			}
		} else {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM client_subscriptions WHERE ad_query_id = ? AND client_id = ?`,
				adQueryID, clientID); err != nil {
				return false, err
			}
		}

		return true, nil
	})
}

// DeleteAdQuery deletes an ad query and everything that cascades from it:
// subscriptions, content, the text ledger, and any queued pushes carrying
// this query's notifications. Returns true if a row was deleted.
func (s *Store) DeleteAdQuery(ctx context.Context, adQueryID int64) (bool, error) {
	return withTx(ctx, s, func(tx *sql.Tx) (bool, error) {
		// Queued pushes reference their client, not the query; the query id
		// lives only inside the notification payload.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM push_queue WHERE json_extract(message, '$.adQueryId') = ?`, adQueryID); err != nil {
			return false, err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM ad_queries WHERE ad_query_id = ?`, adQueryID)
		if err != nil {
			return false, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, err
		}
		return n > 0, nil
	})
}

func lookupClientID(tx *sql.Tx, sessionID string) (int64, bool) {
	var clientID int64
	err := tx.QueryRow(`SELECT client_id FROM clients WHERE session_hash = ?`, sessionHash(sessionID)).Scan(&clientID)
	if err != nil {
		return 0, false
	}
	return clientID, true
}

func hasSubscription(tx *sql.Tx, adQueryID, clientID int64) (bool, error) {
	var exists int
	err := tx.QueryRow(`SELECT 1 FROM client_subscriptions WHERE ad_query_id = ? AND client_id = ?`, adQueryID, clientID).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func decodeFilters(raw string) ([]string, error) {
	var filters []string
	if raw == "" {
		return filters, nil
	}
	if err := json.Unmarshal([]byte(raw), &filters); err != nil {
		return nil, err
	}
	return filters, nil
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
