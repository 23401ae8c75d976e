// Package browser defines the HeadlessBrowser collaborator the crawl
// scheduler queries for ad search results and screenshots, and wraps it
// with a circuit breaker so a misbehaving scraper cannot stall the
// scheduler loop.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/adindex/adindex/internal/metrics"
)

// SearchResult is one ad returned by a keyword query.
type SearchResult struct {
	ID          string
	AccountName string
	AccountURL  string
	StartDate   int64
	Text        string
}

// HeadlessBrowser is the external collaborator that scrapes the ad
// library. Calls are blocking and may be slow; the scheduler is expected
// to run them off its own idle loop, never concurrently with itself (the
// underlying browser session is a single serial resource).
type HeadlessBrowser interface {
	// Query returns every SearchResult currently listed for keyword.
	Query(ctx context.Context, keyword string) ([]SearchResult, error)
	// Screenshot returns a rendered screenshot for the given external ad
	// ids, keyed by id. An id with no available screenshot may be
	// omitted from the result.
	Screenshot(ctx context.Context, ids []string) (map[string][]byte, error)
	// Close releases the underlying browser session.
	Close() error
}

// BreakerSettings configures CircuitBreaker.
type BreakerSettings struct {
	Name             string
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

// DefaultBreakerSettings returns production defaults: trip after 5
// consecutive failures, stay open 30s before probing again.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		Name:             "headless-browser",
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// CircuitBreaker decorates a HeadlessBrowser so sustained failures open
// the breaker instead of letting every scheduler pass pay the full
// timeout cost of a dead browser session.
type CircuitBreaker struct {
	inner HeadlessBrowser
	query *gobreaker.CircuitBreaker[[]SearchResult]
	shot  *gobreaker.CircuitBreaker[map[string][]byte]

	// IsOpen is polled by callers that want to surface breaker state
	// (e.g. into a metrics gauge) without depending on gobreaker types.
	IsOpen func() bool
}

// NewCircuitBreaker wraps inner with a circuit breaker using settings.
func NewCircuitBreaker(inner HeadlessBrowser, settings BreakerSettings) *CircuitBreaker {
	readyToTrip := func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= settings.FailureThreshold
	}

	cb := &CircuitBreaker{inner: inner}

	// gobreaker fires OnStateChange while holding the breaker's own lock,
	// so the callback must not call back into State(); open states are
	// tracked here instead.
	var openMu sync.Mutex
	openByName := make(map[string]bool)
	onStateChange := func(name string, from, to gobreaker.State) {
		openMu.Lock()
		defer openMu.Unlock()
		openByName[name] = to == gobreaker.StateOpen
		anyOpen := 0.0
		for _, open := range openByName {
			if open {
				anyOpen = 1.0
				break
			}
		}
		metrics.CrawlBreakerOpen.Set(anyOpen)
	}

	cb.query = gobreaker.NewCircuitBreaker[[]SearchResult](gobreaker.Settings{
		Name:          settings.Name + "-query",
		MaxRequests:   settings.MaxRequests,
		Interval:      settings.Interval,
		Timeout:       settings.Timeout,
		ReadyToTrip:   readyToTrip,
		OnStateChange: onStateChange,
	})
	cb.shot = gobreaker.NewCircuitBreaker[map[string][]byte](gobreaker.Settings{
		Name:          settings.Name + "-screenshot",
		MaxRequests:   settings.MaxRequests,
		Interval:      settings.Interval,
		Timeout:       settings.Timeout,
		ReadyToTrip:   readyToTrip,
		OnStateChange: onStateChange,
	})

	cb.IsOpen = func() bool {
		return cb.query.State() == gobreaker.StateOpen || cb.shot.State() == gobreaker.StateOpen
	}

	return cb
}

func (cb *CircuitBreaker) Query(ctx context.Context, keyword string) ([]SearchResult, error) {
	result, err := cb.query.Execute(func() ([]SearchResult, error) {
		return cb.inner.Query(ctx, keyword)
	})
	if err != nil {
		return nil, fmt.Errorf("query ad library: %w", err)
	}
	return result, nil
}

func (cb *CircuitBreaker) Screenshot(ctx context.Context, ids []string) (map[string][]byte, error) {
	result, err := cb.shot.Execute(func() (map[string][]byte, error) {
		return cb.inner.Screenshot(ctx, ids)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch screenshots: %w", err)
	}
	return result, nil
}

func (cb *CircuitBreaker) Close() error {
	return cb.inner.Close()
}
