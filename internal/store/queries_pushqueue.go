package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
)

// PushQueueNext leases the due push queue item with the smallest
// retry_time <= now, bumping retry_time by retryTimeout and incrementing
// retries in the same transaction. Returns nil if nothing is due.
func (s *Store) PushQueueNext(ctx context.Context, retryTimeout int64) (*PushLeaseItem, error) {
	return withTx(ctx, s, func(tx *sql.Tx) (*PushLeaseItem, error) {
		now := s.now()

		row := tx.QueryRowContext(ctx,
			`SELECT id, client_id, message, retry_time, retries FROM push_queue
			 WHERE retry_time <= ? ORDER BY retry_time ASC LIMIT 1`, now)

		var item PushLeaseItem
		err := row.Scan(&item.ID, &item.ClientID, &item.Message, &item.RetryTime, &item.Retries)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		item.Retries++
		if _, err := tx.ExecContext(ctx,
			`UPDATE push_queue SET retry_time = ?, retries = ? WHERE id = ?`,
			now+retryTimeout, item.Retries, item.ID); err != nil {
			return nil, err
		}

		var pushSubJSON sql.NullString
		if err := tx.QueryRowContext(ctx,
			`SELECT push_sub, vapid_priv FROM clients WHERE client_id = ?`, item.ClientID,
		).Scan(&pushSubJSON, &item.VAPIDPriv); err != nil {
			return nil, err
		}
		if pushSubJSON.Valid {
			var sub PushSubscription
			if err := json.Unmarshal([]byte(pushSubJSON.String), &sub); err != nil {
				return nil, err
			}
			item.PushSub = &sub
		}

		return &item, nil
	})
}

// PushQueueFinish deletes a leased push queue item. If unsubClient, the
// owning client's push_sub is cleared; otherwise its last_seen is
// touched.
func (s *Store) PushQueueFinish(ctx context.Context, id int64, unsubClient bool) error {
	_, err := withTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		var clientID int64
		if err := tx.QueryRowContext(ctx, `SELECT client_id FROM push_queue WHERE id = ?`, id).Scan(&clientID); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return struct{}{}, nil
			}
			return struct{}{}, err
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM push_queue WHERE id = ?`, id); err != nil {
			return struct{}{}, err
		}

		if unsubClient {
			if _, err := tx.ExecContext(ctx, `UPDATE clients SET push_sub = NULL WHERE client_id = ?`, clientID); err != nil {
				return struct{}{}, err
			}
		} else {
			if _, err := tx.ExecContext(ctx, `UPDATE clients SET last_seen = ? WHERE client_id = ?`, s.now(), clientID); err != nil {
				return struct{}{}, err
			}
		}

		return struct{}{}, nil
	})
	return err
}
