package scheduler_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/adindex/adindex/internal/browser"
	"github.com/adindex/adindex/internal/scheduler"
	"github.com/adindex/adindex/internal/store"
	"github.com/adindex/adindex/internal/util/testutil"
)

func init() {
	// Tests that hit the no-query-due path would otherwise block for the
	// production 10s idle sleep.
	scheduler.IdleSleep = time.Millisecond
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func fixedClock(s *store.Store, start int64) *int64 {
	now := start
	s.Clock = func() int64 { return now }
	return &now
}

func withPushSub(t *testing.T, ctx context.Context, s *store.Store, sessionID string) {
	t.Helper()
	sub := &store.PushSubscription{Endpoint: "https://push.example/" + sessionID}
	sub.Keys.Auth = "auth"
	sub.Keys.P256dh = "p256dh"
	found, err := s.UpdateClientPushSub(ctx, sessionID, sub)
	require.NoError(t, err)
	require.True(t, found)
}

// fakeBrowser serves a fixed, mutable script of query/screenshot
// results so tests can drive the scheduler deterministically.
type fakeBrowser struct {
	mu         sync.Mutex
	results    []browser.SearchResult
	queryErr   error
	screenshot map[string][]byte
	shotErr    error
	queries    []string
}

func (f *fakeBrowser) Query(ctx context.Context, keyword string) ([]browser.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, keyword)
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.results, nil
}

func (f *fakeBrowser) Screenshot(ctx context.Context, ids []string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.shotErr != nil {
		return nil, f.shotErr
	}
	return f.screenshot, nil
}

func (f *fakeBrowser) Close() error { return nil }

func defaultConfig() scheduler.Config {
	return scheduler.Config{
		RefreshInterval:   60,
		MaxAdHistory:      50,
		AdTextExpiration:  3600,
		MinNotifyInterval: 3600,
	}
}

// S1: novelty + notify.
func TestScheduler_NoveltyAndNotify(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := fixedClock(s, 1000)

	sessionID := "session-a"
	require.NoError(t, s.CreateSession(ctx, []byte("pub"), []byte("priv"), sessionID))
	withPushSub(t, ctx, s, sessionID)

	qID, err := s.InsertAdQuery(ctx, "shoes", "running shoes", []string{"sale"}, &sessionID)
	require.NoError(t, err)
	require.NotNil(t, qID)

	fb := &fakeBrowser{
		results: []browser.SearchResult{
			{ID: "1", Text: "SALE today", AccountName: "Acme"},
			{ID: "2", Text: "no match", AccountName: "Other"},
		},
		screenshot: map[string][]byte{},
	}

	sch := scheduler.New(s, fb, defaultConfig())
	*now++
	require.NoError(t, sch.RunOnce(ctx))

	ads, err := s.ListAdContent(ctx, *qID)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	require.Equal(t, "1", ads[0].ID)

	st, err := s.AdQueryStatus(ctx, sessionID, *qID)
	require.NoError(t, err)
	require.NotNil(t, st.LastNotify)
	require.Equal(t, []string{"running shoes"}, fb.queries)
}

// Browser query failures are isolated to the pull and recorded as
// last_error; the worker itself keeps going.
func TestScheduler_BrowserQueryError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := fixedClock(s, 1000)

	qID, err := s.InsertAdQuery(ctx, "shoes", "running shoes", nil, nil)
	require.NoError(t, err)

	fb := &fakeBrowser{queryErr: fmt.Errorf("browser crashed")}
	sch := scheduler.New(s, fb, defaultConfig())
	*now++
	require.NoError(t, sch.RunOnce(ctx))

	st, err := s.AdQueryStatus(ctx, "nobody", *qID)
	require.NoError(t, err)
	require.NotNil(t, st.LastError)
	require.Contains(t, *st.LastError, "browser crashed")
}

// S3-style: within one pull, two disjoint novel ads under the same
// query yield at most one notification because of min_notify_interval;
// both are still stored.
func TestScheduler_MinNotifyIntervalThrottlesWithinOnePull(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := fixedClock(s, 1000)

	sessionID := "session-a"
	require.NoError(t, s.CreateSession(ctx, []byte("pub"), []byte("priv"), sessionID))
	withPushSub(t, ctx, s, sessionID)

	qID, err := s.InsertAdQuery(ctx, "shoes", "running shoes", nil, &sessionID)
	require.NoError(t, err)

	fb := &fakeBrowser{
		results: []browser.SearchResult{
			{ID: "1", Text: "first ad"},
			{ID: "2", Text: "second ad"},
		},
		screenshot: map[string][]byte{},
	}

	cfg := defaultConfig()
	cfg.MinNotifyInterval = 3600
	sch := scheduler.New(s, fb, cfg)
	*now++
	require.NoError(t, sch.RunOnce(ctx))

	ads, err := s.ListAdContent(ctx, *qID)
	require.NoError(t, err)
	require.Len(t, ads, 2)

	item, err := s.PushQueueNext(ctx, 60)
	require.NoError(t, err)
	require.NotNil(t, item)
	item, err = s.PushQueueNext(ctx, 60)
	require.NoError(t, err)
	require.Nil(t, item)
}

// The Run loop pulls due queries on its own and stops when its context
// is cancelled.
func TestScheduler_RunPullsUntilCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newTestStore(t)
	now := fixedClock(s, 1000)

	qID, err := s.InsertAdQuery(ctx, "shoes", "running shoes", nil, nil)
	require.NoError(t, err)

	fb := &fakeBrowser{
		results:    []browser.SearchResult{{ID: "1", Text: "an ad"}},
		screenshot: map[string][]byte{},
	}
	sch := scheduler.New(s, fb, defaultConfig())

	*now++ // the query becomes due; the clock stays fixed from here on

	done := make(chan error, 1)
	go func() { done <- sch.Run(ctx) }()

	testutil.RequireEventually(t, func() bool {
		ads, err := s.ListAdContent(ctx, *qID)
		return err == nil && len(ads) == 1
	})

	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

// Filters keep only results containing a filter substring, case
// insensitively on ASCII.
func TestScheduler_FiltersAreCaseInsensitiveSubstring(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	now := fixedClock(s, 1000)

	qID, err := s.InsertAdQuery(ctx, "shoes", "running shoes", []string{"SALE"}, nil)
	require.NoError(t, err)

	fb := &fakeBrowser{
		results: []browser.SearchResult{
			{ID: "1", Text: "big sale today"},
			{ID: "2", Text: "no discount"},
		},
		screenshot: map[string][]byte{},
	}

	sch := scheduler.New(s, fb, defaultConfig())
	*now++
	require.NoError(t, sch.RunOnce(ctx))

	ads, err := s.ListAdContent(ctx, *qID)
	require.NoError(t, err)
	require.Len(t, ads, 1)
	require.Equal(t, "1", ads[0].ID)
}
