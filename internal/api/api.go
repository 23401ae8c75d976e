// Package api implements the AdQueryAPI: thin, validating HTTP handlers
// over the Store's synchronous operations.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/adindex/adindex/internal/logging"
	"github.com/adindex/adindex/internal/metrics"
	"github.com/adindex/adindex/internal/session"
	"github.com/adindex/adindex/internal/store"
)

// API wires the Store and SessionIssuer behind an HTTP router.
type API struct {
	store  *store.Store
	issuer *session.Issuer
	cfg    Config
}

// Config configures New.
type Config struct {
	AssetDir string
	// RateLimitRequests and RateLimitWindow bound how many requests a
	// single client IP may make against /api/.
	RateLimitRequests int
	RateLimitWindow   time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		RateLimitRequests: 120,
		RateLimitWindow:   time.Minute,
	}
}

// New returns an API bound to s and issuer. Zero rate-limit fields fall
// back to DefaultConfig's values.
func New(s *store.Store, issuer *session.Issuer, cfg Config) *API {
	def := DefaultConfig()
	if cfg.RateLimitRequests <= 0 {
		cfg.RateLimitRequests = def.RateLimitRequests
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = def.RateLimitWindow
	}
	return &API{
		store:  s,
		issuer: issuer,
		cfg:    cfg,
	}
}

// Router builds the complete HTTP handler: CORS, rate limiting, request
// logging and metrics middleware, then the API route table plus the
// ambient /healthz and /metrics endpoints.
func (a *API) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         600,
	}))
	r.Use(logging.HTTPMiddleware)
	r.Use(metrics.HTTPMiddleware)

	r.Get("/healthz", a.handleHealthz)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(httprate.LimitByIP(a.cfg.RateLimitRequests, a.cfg.RateLimitWindow))

		r.Get("/create_session", a.handleCreateSession)
		r.Get("/session_exists", a.handleSessionExists)
		r.Get("/update_push_sub", a.handleUpdatePushSub)
		r.Get("/get_ad_queries", a.handleGetAdQueries)
		r.Get("/get_ad_query", a.handleGetAdQuery)
		r.Get("/get_ad_query_status", a.handleGetAdQueryStatus)
		r.Get("/insert_ad_query", a.handleInsertAdQuery)
		r.Get("/update_ad_query", a.handleUpdateAdQuery)
		r.Get("/delete_ad_query", a.handleDeleteAdQuery)
		r.Get("/list_ad_content", a.handleListAdContent)
		r.Get("/toggle_ad_query_subscription", a.handleToggleAdQuerySubscription)
	})

	r.Handle("/*", a.staticHandler())

	return r
}

// staticHandler serves the single-page frontend out of assetDir. With
// no asset directory configured, unmatched paths 404.
func (a *API) staticHandler() http.Handler {
	if a.cfg.AssetDir == "" {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
	}

	fileServer := http.FileServer(http.Dir(a.cfg.AssetDir))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fileServer.ServeHTTP(w, r)
	})
}
