package store_test

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/adindex/adindex/internal/store"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fixedClock lets a test control "now" in whole seconds without sleeping.
func fixedClock(t *testing.T, s *store.Store, start int64) *int64 {
	t.Helper()
	now := start
	s.Clock = func() int64 { return now }
	return &now
}

func createTestSession(t *testing.T, ctx context.Context, s *store.Store, sessionID string) {
	t.Helper()
	require.NoError(t, s.CreateSession(ctx, []byte("pub-"+sessionID), []byte("priv-"+sessionID), sessionID))
}

func TestInsertAdQuery_DuplicateNickname(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id1, err := s.InsertAdQuery(ctx, "shoes", "running shoes", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, id1)

	id2, err := s.InsertAdQuery(ctx, "shoes", "other shoes", nil, nil)
	require.Error(t, err)
	require.Nil(t, id2)

	recs, err := s.AdQueries(ctx, "nobody", nil)
	require.NoError(t, err)
	require.Len(t, recs, 1)
}

func TestInsertAdQuery_UnknownSubSession(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	unknown := "deadbeef"
	id, err := s.InsertAdQuery(ctx, "shoes", "running shoes", nil, &unknown)
	require.NoError(t, err)
	require.Nil(t, id)

	recs, err := s.AdQueries(ctx, "nobody", nil)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestDeleteAdQuery_Cascades(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sessA, sessB := "session-a", "session-b"
	createTestSession(t, ctx, s, sessA)
	createTestSession(t, ctx, s, sessB)

	id, err := s.InsertAdQuery(ctx, "shoes", "running shoes", nil, &sessA)
	require.NoError(t, err)
	okUp, errUp := s.UpdateClientPushSub(ctx, sessB, &store.PushSubscription{Endpoint: "https://push.example/ep-b"})
	require.True(t, mustBool(t, okUp, errUp))

	_, err = s.ToggleAdQuerySubscription(ctx, *id, sessB, true)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		ok, err := s.InsertAd(ctx, *id, itoa(i), "acct", "https://example.com", int64(i), "text "+itoa(i), nil, 3600, 3600)
		require.NoError(t, err)
		require.True(t, ok)
	}

	deleted, err := s.DeleteAdQuery(ctx, *id)
	require.NoError(t, err)
	require.True(t, deleted)

	content, err := s.ListAdContent(ctx, *id)
	require.Error(t, err) // query no longer exists
	require.Empty(t, content)

	exists, err := s.SessionExists(ctx, sessA)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestScenarioS1_NoveltyAndNotify(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sessA := "session-a"
	createTestSession(t, ctx, s, sessA)
	okUp, errUp := s.UpdateClientPushSub(ctx, sessA, &store.PushSubscription{Endpoint: "https://push.example/ep"})
	require.True(t, mustBool(t, okUp, errUp))

	id, err := s.InsertAdQuery(ctx, "q", "keyword", nil, &sessA)
	require.NoError(t, err)
	require.NotNil(t, id)

	ok, err := s.InsertAd(ctx, *id, "1", "acct", "https://example.com", 1000, "SALE today", nil, 3600, 3600)
	require.NoError(t, err)
	require.True(t, ok)

	status, err := s.AdQueryStatus(ctx, sessA, *id)
	require.NoError(t, err)
	require.NotNil(t, status.LastNotify)

	item, err := s.PushQueueNext(ctx, 60)
	require.NoError(t, err)
	require.NotNil(t, item)

	none, err := s.PushQueueNext(ctx, 60)
	require.NoError(t, err)
	require.Nil(t, none)
}

func TestScenarioS2_DedupOnText(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := fixedClock(t, s, 1_000_000)

	sessA := "session-a"
	createTestSession(t, ctx, s, sessA)
	okUp, errUp := s.UpdateClientPushSub(ctx, sessA, &store.PushSubscription{Endpoint: "https://push.example/ep"})
	require.True(t, mustBool(t, okUp, errUp))

	id, err := s.InsertAdQuery(ctx, "q", "keyword", nil, &sessA)
	require.NoError(t, err)

	_, err = s.InsertAd(ctx, *id, "1", "acct", "https://example.com", *now, "Big SALE", nil, 3600, 3600)
	require.NoError(t, err)

	*now += 60
	_, err = s.InsertAd(ctx, *id, "2", "acct", "https://example.com", *now, "big sale", nil, 3600, 3600)
	require.NoError(t, err)

	content, err := s.ListAdContent(ctx, *id)
	require.NoError(t, err)
	require.Len(t, content, 2)

	count := 0
	for {
		item, err := s.PushQueueNext(ctx, 1)
		require.NoError(t, err)
		if item == nil {
			break
		}
		count++
		require.NoError(t, s.PushQueueFinish(ctx, item.ID, false))
	}
	require.Equal(t, 1, count)
}

func TestScenarioS3_MinNotifyInterval(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := fixedClock(t, s, 2_000_000)

	sessA := "session-a"
	createTestSession(t, ctx, s, sessA)
	okUp, errUp := s.UpdateClientPushSub(ctx, sessA, &store.PushSubscription{Endpoint: "https://push.example/ep"})
	require.True(t, mustBool(t, okUp, errUp))

	id, err := s.InsertAdQuery(ctx, "q", "keyword", nil, &sessA)
	require.NoError(t, err)

	_, err = s.InsertAd(ctx, *id, "1", "acct", "https://example.com", *now, "alpha novelty", nil, 10, 3600)
	require.NoError(t, err)
	_, err = s.InsertAd(ctx, *id, "2", "acct", "https://example.com", *now, "bravo novelty", nil, 10, 3600)
	require.NoError(t, err)

	require.Equal(t, 1, countPushItems(t, ctx, s))

	*now += 3700
	_, err = s.InsertAd(ctx, *id, "3", "acct", "https://example.com", *now, "charlie novelty", nil, 10, 3600)
	require.NoError(t, err)

	require.Equal(t, 2, countPushItems(t, ctx, s))
}

func TestScenarioS4_PushRetryExhaustion(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sessA := "session-a"
	createTestSession(t, ctx, s, sessA)
	okUp, errUp := s.UpdateClientPushSub(ctx, sessA, &store.PushSubscription{Endpoint: "https://push.example/ep"})
	require.True(t, mustBool(t, okUp, errUp))

	id, err := s.InsertAdQuery(ctx, "q", "keyword", nil, &sessA)
	require.NoError(t, err)
	_, err = s.InsertAd(ctx, *id, "1", "acct", "https://example.com", 0, "novel", nil, 3600, 3600)
	require.NoError(t, err)

	const maxRetries = 3
	var itemID int64
	for i := 1; i <= maxRetries+1; i++ {
		// A zero retry timeout keeps the item immediately due again, so
		// each iteration leases the same row without advancing the clock.
		item, err := s.PushQueueNext(ctx, 0)
		require.NoError(t, err)
		require.NotNil(t, item)
		itemID = item.ID
		require.Equal(t, i, item.Retries)

		if item.Retries > maxRetries {
			require.NoError(t, s.PushQueueFinish(ctx, itemID, true))
		}
	}

	item, err := s.PushQueueNext(ctx, 1)
	require.NoError(t, err)
	require.Nil(t, item)

	exists, err := s.SessionExists(ctx, sessA)
	require.NoError(t, err)
	require.True(t, exists)
}

func TestScenarioS5_HistoryTrim(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := fixedClock(t, s, 3_000_000)

	id, err := s.InsertAdQuery(ctx, "q", "keyword", nil, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		*now++
		_, err := s.InsertAd(ctx, *id, itoa(i), "acct", "https://example.com", int64(i), "text", nil, 3600, 3600)
		require.NoError(t, err)
	}

	require.NoError(t, s.CleanupAds(ctx, 3, 3600))

	content, err := s.ListAdContent(ctx, *id)
	require.NoError(t, err)
	require.Len(t, content, 3)
	require.Equal(t, "4", content[0].ID)
	require.Equal(t, "3", content[1].ID)
	require.Equal(t, "2", content[2].ID)
}

func TestScenarioS6_CascadeDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sessA, sessB := "session-a", "session-b"
	createTestSession(t, ctx, s, sessA)
	createTestSession(t, ctx, s, sessB)
	okUp, errUp := s.UpdateClientPushSub(ctx, sessA, &store.PushSubscription{Endpoint: "https://push.example/ep-a"})
	require.True(t, mustBool(t, okUp, errUp))
	okUp, errUp = s.UpdateClientPushSub(ctx, sessB, &store.PushSubscription{Endpoint: "https://push.example/ep-b"})
	require.True(t, mustBool(t, okUp, errUp))

	id, err := s.InsertAdQuery(ctx, "q", "keyword", nil, &sessA)
	require.NoError(t, err)
	_, err = s.ToggleAdQuerySubscription(ctx, *id, sessB, true)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := s.InsertAd(ctx, *id, itoa(i), "acct", "https://example.com", int64(i), "text "+itoa(i), nil, 3600, 3600)
		require.NoError(t, err)
	}

	// The first insert fanned out to both subscribed clients; the rest
	// were throttled by min_notify_interval.
	require.Equal(t, 2, countPushItems(t, ctx, s))

	deleted, err := s.DeleteAdQuery(ctx, *id)
	require.NoError(t, err)
	require.True(t, deleted)

	require.Equal(t, 0, countPushItems(t, ctx, s))

	existsA, err := s.SessionExists(ctx, sessA)
	require.NoError(t, err)
	require.True(t, existsA)

	existsB, err := s.SessionExists(ctx, sessB)
	require.NoError(t, err)
	require.True(t, existsB)
}

func TestInsertAd_RejectsOversizedID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id, err := s.InsertAdQuery(ctx, "q", "keyword", nil, nil)
	require.NoError(t, err)

	longID := strings.Repeat("x", 65)
	_, err = s.InsertAd(ctx, *id, longID, "acct", "https://example.com", 0, "text", nil, 3600, 3600)
	require.Error(t, err)

	_, err = s.InsertAd(ctx, *id, "", "acct", "https://example.com", 0, "text", nil, 3600, 3600)
	require.Error(t, err)
}

func TestUpdateClientPushSub_NullDropsQueue(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sessA := "session-a"
	createTestSession(t, ctx, s, sessA)
	okUp, errUp := s.UpdateClientPushSub(ctx, sessA, &store.PushSubscription{Endpoint: "https://push.example/ep"})
	require.True(t, mustBool(t, okUp, errUp))

	id, err := s.InsertAdQuery(ctx, "q", "keyword", nil, &sessA)
	require.NoError(t, err)
	_, err = s.InsertAd(ctx, *id, "1", "acct", "https://example.com", 0, "novel", nil, 3600, 3600)
	require.NoError(t, err)
	require.Equal(t, 1, countPushItems(t, ctx, s))

	okUp, errUp = s.UpdateClientPushSub(ctx, sessA, nil)
	require.True(t, mustBool(t, okUp, errUp))
	require.Equal(t, 0, countPushItems(t, ctx, s))
}

// countPushItems drains the queue by leasing every currently-due item.
// The one-second lease pushes each counted row past "now", so the loop
// terminates; with a fixed clock, advancing it re-exposes the rows.
func countPushItems(t *testing.T, ctx context.Context, s *store.Store) int {
	t.Helper()
	n := 0
	for {
		item, err := s.PushQueueNext(ctx, 1)
		require.NoError(t, err)
		if item == nil {
			break
		}
		n++
	}
	return n
}

func mustBool(t *testing.T, ok bool, err error) bool {
	t.Helper()
	require.NoError(t, err)
	return ok
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
