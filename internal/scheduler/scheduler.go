// Package scheduler implements the CrawlScheduler: a single long-lived
// worker that repeatedly leases the next due ad query, queries the
// HeadlessBrowser, inserts novel ads, and lets the Store decide whether
// any of them warrant a push notification.
package scheduler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/adindex/adindex/internal/apierr"
	"github.com/adindex/adindex/internal/browser"
	"github.com/adindex/adindex/internal/imaging"
	"github.com/adindex/adindex/internal/metrics"
	"github.com/adindex/adindex/internal/sanitize"
	"github.com/adindex/adindex/internal/store"
)

// IdleSleep is how long the scheduler waits before re-polling when no
// query is due. It is a package variable so tests can shrink it.
var IdleSleep = 10 * time.Second

// Config bounds a Scheduler's behavior.
type Config struct {
	RefreshInterval   int64 // seconds added to next_pull on each lease
	MaxAdHistory      int
	AdTextExpiration  int64
	MinNotifyInterval int64
}

// Scheduler runs the crawl loop.
type Scheduler struct {
	store   *store.Store
	browser browser.HeadlessBrowser
	cfg     Config
	log     *slog.Logger
}

// New returns a Scheduler. b is expected to already be wrapped with any
// resilience decorators (circuit breaker, timeouts) the caller wants.
func New(s *store.Store, b browser.HeadlessBrowser, cfg Config) *Scheduler {
	return &Scheduler{
		store:   s,
		browser: b,
		cfg:     cfg,
		log:     slog.With("component", "scheduler"),
	}
}

// Run executes the cooperative crawl loop until ctx is cancelled. It
// never returns an error for a single bad query; every external call is
// isolated so one misbehaving ad query cannot stall the others.
func (sch *Scheduler) Run(ctx context.Context) error {
	if err := sch.store.CleanupAds(ctx, sch.cfg.MaxAdHistory, sch.cfg.AdTextExpiration); err != nil {
		sch.log.Error("startup cleanup_ads failed", "error", err)
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := sch.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			sch.log.Error("crawl pass failed", "error", err)
		}
	}
}

// RunOnce performs one iteration of the loop: lease a query (or
// idle-sleep), pull it, insert novelties, and trim history. Exported so
// tests can drive a single deterministic pass instead of the infinite
// Run loop.
func (sch *Scheduler) RunOnce(ctx context.Context) error {
	q, err := sch.store.AdQueryNext(ctx, sch.cfg.RefreshInterval)
	if err != nil {
		return err
	}
	if q == nil {
		metrics.CrawlQueueIdle.Inc()
		return sleep(ctx, IdleSleep)
	}

	log := sch.log.With("ad_query_id", q.AdQueryID, "nickname", q.Nickname)

	results, err := sch.browser.Query(ctx, q.Query)
	if err != nil {
		log.Warn("browser query failed", "error", err)
		metrics.CrawlPullsTotal.WithLabelValues("browser_error").Inc()
		errMsg := err.Error()
		return sch.store.AdQueryFinishedPull(ctx, q.AdQueryID, &errMsg)
	}

	kept := filterResults(results, q.Filters)

	ids := make([]string, len(kept))
	for i, r := range kept {
		ids[i] = r.ID
	}

	unseen, err := sch.store.UnseenAdIDs(ctx, q.AdQueryID, ids)
	if err != nil {
		return err
	}
	noveltySet := make(map[string]bool, len(unseen))
	for _, id := range unseen {
		noveltySet[id] = true
	}

	novelIDs := make([]string, 0, len(unseen))
	for _, r := range kept {
		if noveltySet[r.ID] {
			novelIDs = append(novelIDs, r.ID)
		}
	}

	var screenshots map[string][]byte
	if len(novelIDs) > 0 {
		screenshots, err = sch.browser.Screenshot(ctx, novelIDs)
		if err != nil {
			log.Warn("browser screenshot failed", "error", err)
			metrics.CrawlPullsTotal.WithLabelValues("screenshot_error").Inc()
			errMsg := err.Error()
			return sch.store.AdQueryFinishedPull(ctx, q.AdQueryID, &errMsg)
		}
	}

	// Insert oldest-novel-first (reverse of the browser's returned
	// order), so within one pull notifications for this query arrive
	// newest-last: combined with min_notify_interval this yields at most
	// one notification per query per pull.
	for i := len(kept) - 1; i >= 0; i-- {
		r := kept[i]
		if !noveltySet[r.ID] {
			continue
		}

		jpg, err := imaging.Normalize(screenshots[r.ID])
		if err != nil {
			log.Warn("screenshot re-encode failed", "ad_id", r.ID, "error", err)
			jpg = nil
		}

		inserted, err := sch.store.InsertAd(ctx, q.AdQueryID, r.ID, r.AccountName, r.AccountURL,
			r.StartDate, r.Text, jpg, sch.cfg.AdTextExpiration, sch.cfg.MinNotifyInterval)
		if err != nil {
			if apierr.IsDataArgument(err) {
				// A third-party id the Store refuses to persist (empty or
				// oversized) is dropped, not fatal to the pull.
				log.Warn("skipping ad", "ad_id", r.ID, "error", err)
				continue
			}
			return err
		}
		if inserted {
			metrics.CrawlNoveltiesTotal.Inc()
		}
	}

	metrics.CrawlPullsTotal.WithLabelValues("ok").Inc()
	if err := sch.store.AdQueryFinishedPull(ctx, q.AdQueryID, nil); err != nil {
		return err
	}

	return sch.store.CleanupAds(ctx, sch.cfg.MaxAdHistory, sch.cfg.AdTextExpiration)
}

// filterResults keeps a SearchResult only if filters is empty or any
// filter substring (ASCII-lowercased) is contained in the
// ASCII-lowercased result text.
func filterResults(results []browser.SearchResult, filters []string) []browser.SearchResult {
	if len(filters) == 0 {
		return results
	}

	lowered := make([]string, len(filters))
	for i, f := range filters {
		lowered[i] = sanitize.ASCIILower(f)
	}

	var kept []browser.SearchResult
	for _, r := range results {
		text := sanitize.ASCIILower(r.Text)
		for _, f := range lowered {
			if strings.Contains(text, f) {
				kept = append(kept, r)
				break
			}
		}
	}
	return kept
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
