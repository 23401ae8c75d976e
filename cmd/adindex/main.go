// Command adindex runs the ad index watcher: the HTTP façade, the crawl
// scheduler, and the push dispatcher, sharing one Store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/adindex/adindex/internal/api"
	"github.com/adindex/adindex/internal/browser"
	"github.com/adindex/adindex/internal/config"
	"github.com/adindex/adindex/internal/dispatcher"
	"github.com/adindex/adindex/internal/logging"
	"github.com/adindex/adindex/internal/scheduler"
	"github.com/adindex/adindex/internal/session"
	"github.com/adindex/adindex/internal/store"
	"github.com/adindex/adindex/internal/webpush"
)

func main() {
	logging.Setup()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := config.Load(args)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}

	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	issuer := session.New(st, int64(cfg.SessionExpiration.Seconds()))

	headlessBrowser := browser.NewCircuitBreaker(browser.Unconfigured{}, browser.DefaultBreakerSettings())

	sender := webpush.NewVAPIDSender(cfg.VAPIDSubject, 10)

	sched := scheduler.New(st, headlessBrowser, scheduler.Config{
		RefreshInterval:   int64(cfg.RefreshInterval.Seconds()),
		MaxAdHistory:      cfg.MaxAdHistory,
		AdTextExpiration:  int64(cfg.AdTextExpiration.Seconds()),
		MinNotifyInterval: int64(cfg.MinNotifyInterval.Seconds()),
	})

	disp := dispatcher.New(st, sender, dispatcher.Config{
		MessageRetryInterval: int64(cfg.MessageRetryInterval.Seconds()),
		MaxMessageRetries:    cfg.MaxMessageRetries,
	})

	apiServer := api.New(st, issuer, api.Config{
		AssetDir:          cfg.AssetDir,
		RateLimitRequests: api.DefaultConfig().RateLimitRequests,
		RateLimitWindow:   api.DefaultConfig().RateLimitWindow,
	})

	httpServer := &http.Server{
		Addr:         cfg.Addr,
		Handler:      apiServer.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("listening", "addr", cfg.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		err := sched.Run(gCtx)
		if gCtx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		err := disp.Run(gCtx)
		if gCtx.Err() != nil {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown http server: %w", err)
		}
		return headlessBrowser.Close()
	})

	return g.Wait()
}
