package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// CreateSession writes a new Client row with last_seen=now.
func (s *Store) CreateSession(ctx context.Context, vapidPub, vapidPriv []byte, sessionID string) error {
	_, err := withTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO clients (vapid_pub, vapid_priv, session_hash, push_sub, last_seen) VALUES (?, ?, ?, NULL, ?)`,
			vapidPub, vapidPriv, sessionHash(sessionID), s.now())
		return struct{}{}, err
	})
	return err
}

// SessionExists reports whether a client with this session_id exists.
func (s *Store) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	return withTx(ctx, s, func(tx *sql.Tx) (bool, error) {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM clients WHERE session_hash = ?`, sessionHash(sessionID)).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return true, nil
	})
}

// CleanupSessions deletes clients whose last_seen is older than
// expirationTime, cascading their subscriptions and queued pushes.
func (s *Store) CleanupSessions(ctx context.Context, expirationTime int64) error {
	_, err := withTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		_, err := tx.ExecContext(ctx, `DELETE FROM clients WHERE last_seen < ?`, expirationTime)
		return struct{}{}, err
	})
	return err
}

// UpdateClientPushSub replaces the push subscription for sessionID,
// touching last_seen. pushSub nil drops queued pushes for that client.
// Returns false iff no client matches sessionID.
func (s *Store) UpdateClientPushSub(ctx context.Context, sessionID string, pushSub *PushSubscription) (bool, error) {
	return withTx(ctx, s, func(tx *sql.Tx) (bool, error) {
		clientID, ok := lookupClientID(tx, sessionID)
		if !ok {
			return false, nil
		}

		var pushSubJSON sql.NullString
		if pushSub != nil {
			b, err := json.Marshal(pushSub)
			if err != nil {
				return false, err
			}
			pushSubJSON = sql.NullString{String: string(b), Valid: true}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE clients SET push_sub = ?, last_seen = ? WHERE client_id = ?`,
			pushSubJSON, s.now(), clientID); err != nil {
			return false, err
		}

		if pushSub == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM push_queue WHERE client_id = ?`, clientID); err != nil {
				return false, err
			}
		}

		return true, nil
	})
}
