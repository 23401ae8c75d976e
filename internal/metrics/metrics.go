// Package metrics provides Prometheus instrumentation for the ad index
// watcher: the HTTP façade, the crawl scheduler, and the push dispatcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adindex_http_requests_total",
		Help: "Total number of HTTP requests.",
	}, []string{"method", "path", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "adindex_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// CrawlScheduler metrics.
var (
	CrawlPullsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adindex_crawl_pulls_total",
		Help: "Total number of ad query pulls attempted by the crawl scheduler.",
	}, []string{"result"}) // result: ok, browser_error, screenshot_error

	CrawlNoveltiesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adindex_crawl_novelties_total",
		Help: "Total number of novel ads inserted by the crawl scheduler.",
	})

	CrawlQueueIdle = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adindex_crawl_queue_idle_total",
		Help: "Total number of times the crawl scheduler found no due query.",
	})

	CrawlBreakerOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "adindex_crawl_browser_breaker_open",
		Help: "1 if the HeadlessBrowser circuit breaker is open, 0 otherwise.",
	})
)

// PushDispatcher metrics.
var (
	PushAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "adindex_push_attempts_total",
		Help: "Total number of push delivery attempts.",
	}, []string{"result"}) // result: delivered, retried, unsubscribed, client_gone

	PushQueueIdle = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adindex_push_queue_idle_total",
		Help: "Total number of times the push dispatcher found no due item.",
	})
)

// Store metrics.
var (
	StoreTxRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adindex_store_tx_retries_total",
		Help: "Total number of Store transactions retried due to transient contention.",
	})

	StoreAdsTrimmedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "adindex_store_ads_trimmed_total",
		Help: "Total number of AdContent rows removed by history trimming.",
	})
)
