package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"

	"github.com/adindex/adindex/internal/apierr"
	"github.com/adindex/adindex/internal/metrics"
	"github.com/adindex/adindex/internal/sanitize"
)

// UnseenAdIDs returns the subset of ids not already stored as AdContent
// under adQueryID.
func (s *Store) UnseenAdIDs(ctx context.Context, adQueryID int64, ids []string) ([]string, error) {
	return withTx(ctx, s, func(tx *sql.Tx) ([]string, error) {
		if len(ids) == 0 {
			return nil, nil
		}

		stored := make(map[string]bool, len(ids))
		rows, err := tx.QueryContext(ctx, `SELECT id FROM ad_content WHERE ad_query_id = ?`, adQueryID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return nil, err
			}
			stored[id] = true
		}
		if err := rows.Err(); err != nil {
			return nil, err
		}

		var unseen []string
		for _, id := range ids {
			if !stored[id] {
				unseen = append(unseen, id)
			}
		}
		return unseen, nil
	})
}

const (
	notificationTextLimit = 128

	// maxAdIDLen bounds the opaque external ad id. Ids come from a third
	// party and are treated as unvalidated bytes.
	maxAdIDLen = 64
)

// InsertAd upserts an ad under adQueryID, maintains the text-hash
// deduplication ledger, and fans out a push notification to every
// subscribed client with a live push subscription when the text is novel
// and the query's notify throttle allows it. Returns false if the query
// no longer exists.
func (s *Store) InsertAd(ctx context.Context, adQueryID int64, id, accountName, accountURL string, startDate int64, text string, screenshot []byte, textExpiration, minNotifyInterval int64) (bool, error) {
	if id == "" || len(id) > maxAdIDLen {
		return false, apierr.DataArgumentf("ad id must be 1-%d bytes", maxAdIDLen)
	}

	return withTx(ctx, s, func(tx *sql.Tx) (bool, error) {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM ad_queries WHERE ad_query_id = ?`, adQueryID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return false, nil
			}
			return false, err
		}

		cleanText := sanitize.Text(text)
		textHash := adTextHash(cleanText)
		now := s.now()
		if screenshot == nil {
			screenshot = []byte{}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ad_content (ad_query_id, id, account_name, account_url, start_date, last_seen, text_hash, text, screenshot)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(ad_query_id, id) DO UPDATE SET
			   account_name = excluded.account_name,
			   account_url  = excluded.account_url,
			   start_date   = excluded.start_date,
			   last_seen    = excluded.last_seen,
			   text_hash    = excluded.text_hash,
			   text         = excluded.text,
			   screenshot   = excluded.screenshot`,
			adQueryID, id, accountName, accountURL, startDate, now, textHash, cleanText, screenshot,
		); err != nil {
			return false, err
		}

		var priorLastSeen sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT last_seen FROM ad_content_text WHERE ad_query_id = ? AND text_hash = ?`,
			adQueryID, textHash,
		).Scan(&priorLastSeen); err != nil && !errors.Is(err, sql.ErrNoRows) {
			return false, err
		}
		freshTextMatch := priorLastSeen.Valid && now-priorLastSeen.Int64 < textExpiration

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO ad_content_text (ad_query_id, text_hash, text, last_seen) VALUES (?, ?, ?, ?)
			 ON CONFLICT(ad_query_id, text_hash) DO UPDATE SET text = excluded.text, last_seen = excluded.last_seen`,
			adQueryID, textHash, cleanText, now,
		); err != nil {
			return false, err
		}

		if freshTextMatch {
			return true, nil
		}

		var nickname string
		var lastNotify sql.NullInt64
		if err := tx.QueryRowContext(ctx,
			`SELECT nickname, last_notify FROM ad_queries WHERE ad_query_id = ?`, adQueryID,
		).Scan(&nickname, &lastNotify); err != nil {
			return false, err
		}
		throttled := lastNotify.Valid && now-lastNotify.Int64 < minNotifyInterval
		if throttled {
			return true, nil
		}

		payload := NotificationPayload{
			AdQueryID: adQueryID,
			Nickname:  nickname,
			Ad: NotificationPayloadAd{
				ID:          id,
				AccountName: accountName,
				AccountURL:  accountURL,
				Text:        sanitize.Truncate(cleanText, notificationTextLimit),
			},
		}
		message, err := json.Marshal(payload)
		if err != nil {
			return false, err
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT c.client_id FROM client_subscriptions cs
			 JOIN clients c ON c.client_id = cs.client_id
			 WHERE cs.ad_query_id = ? AND c.push_sub IS NOT NULL`, adQueryID)
		if err != nil {
			return false, err
		}
		var clientIDs []int64
		for rows.Next() {
			var clientID int64
			if err := rows.Scan(&clientID); err != nil {
				rows.Close()
				return false, err
			}
			clientIDs = append(clientIDs, clientID)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return false, err
		}
		rows.Close()

		for _, clientID := range clientIDs {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO push_queue (client_id, message, retry_time, retries) VALUES (?, ?, ?, 0)`,
				clientID, string(message), now); err != nil {
				return false, err
			}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE ad_queries SET last_notify = ? WHERE ad_query_id = ?`, now, adQueryID); err != nil {
			return false, err
		}

		return true, nil
	})
}

// CleanupAds trims AdContent history to maxAds per query (victims are the
// oldest by last_seen, tiebreak oldest start_date) and deletes
// AdContentText rows that are both older than textExpiration and no
// longer referenced by any AdContent.
func (s *Store) CleanupAds(ctx context.Context, maxAds int, textExpiration int64) error {
	_, err := withTx(ctx, s, func(tx *sql.Tx) (struct{}, error) {
		now := s.now()

		rows, err := tx.QueryContext(ctx, `SELECT DISTINCT ad_query_id FROM ad_content`)
		if err != nil {
			return struct{}{}, err
		}
		var queryIDs []int64
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return struct{}{}, err
			}
			queryIDs = append(queryIDs, id)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return struct{}{}, err
		}
		rows.Close()

		for _, adQueryID := range queryIDs {
			res, err := tx.ExecContext(ctx,
				`DELETE FROM ad_content WHERE ad_query_id = ? AND id IN (
				   SELECT id FROM ad_content WHERE ad_query_id = ?
				   ORDER BY last_seen DESC, start_date DESC
				   LIMIT -1 OFFSET ?
				 )`, adQueryID, adQueryID, maxAds)
			if err != nil {
				return struct{}{}, err
			}
			if n, err := res.RowsAffected(); err == nil && n > 0 {
				metrics.StoreAdsTrimmedTotal.Add(float64(n))
			}
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM ad_content_text
			 WHERE last_seen < ?
			   AND NOT EXISTS (
			     SELECT 1 FROM ad_content
			     WHERE ad_content.ad_query_id = ad_content_text.ad_query_id
			       AND ad_content.text_hash = ad_content_text.text_hash
			   )`, now-textExpiration); err != nil {
			return struct{}{}, err
		}

		return struct{}{}, nil
	})
	return err
}

// ListAdContent returns every stored ad for adQueryID, ordered by
// (last_seen DESC, start_date DESC). Signals DataArgument if the query
// does not exist.
func (s *Store) ListAdContent(ctx context.Context, adQueryID int64) ([]AdContent, error) {
	return withTx(ctx, s, func(tx *sql.Tx) ([]AdContent, error) {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM ad_queries WHERE ad_query_id = ?`, adQueryID).Scan(&exists); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, apierr.DataArgument("unknown ad_query_id")
			}
			return nil, err
		}

		rows, err := tx.QueryContext(ctx,
			`SELECT ad_query_id, id, account_name, account_url, start_date, last_seen, text_hash, text, screenshot
			 FROM ad_content WHERE ad_query_id = ? ORDER BY last_seen DESC, start_date DESC`, adQueryID)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []AdContent
		for rows.Next() {
			var c AdContent
			if err := rows.Scan(&c.AdQueryID, &c.ID, &c.AccountName, &c.AccountURL, &c.StartDate, &c.LastSeen, &c.TextHash, &c.Text, &c.Screenshot); err != nil {
				return nil, err
			}
			out = append(out, c)
		}
		return out, rows.Err()
	})
}

func adTextHash(text string) string {
	sum := sha256.Sum256([]byte(sanitize.ASCIILower(text)))
	return hex.EncodeToString(sum[:])
}
