// Package dispatcher implements the PushDispatcher: a single long-lived
// worker that repeatedly leases the next due push-queue entry, attempts
// delivery via a WebPushSender, and either completes or reschedules with
// retry; exhausted retries trigger client unsubscription.
package dispatcher

import (
	"context"
	"log/slog"
	"time"

	"github.com/adindex/adindex/internal/metrics"
	"github.com/adindex/adindex/internal/store"
	"github.com/adindex/adindex/internal/webpush"
)

// IdleSleep is how long the dispatcher waits before re-polling when no
// item is due. It is a package variable so tests can shrink it.
var IdleSleep = 10 * time.Second

// Config bounds a Dispatcher's behavior.
type Config struct {
	MessageRetryInterval int64 // seconds added to retry_time on each lease
	MaxMessageRetries    int
}

// Dispatcher runs the push-delivery loop.
type Dispatcher struct {
	store  *store.Store
	sender webpush.Sender
	cfg    Config
	log    *slog.Logger
}

// New returns a Dispatcher.
func New(s *store.Store, sender webpush.Sender, cfg Config) *Dispatcher {
	return &Dispatcher{
		store:  s,
		sender: sender,
		cfg:    cfg,
		log:    slog.With("component", "dispatcher"),
	}
}

// Run executes the dispatch loop until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err := d.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			d.log.Error("dispatch pass failed", "error", err)
		}
	}
}

// RunOnce performs one iteration: lease the next due item (or
// idle-sleep), attempt delivery, and resolve it. Exported so tests can
// drive a single deterministic pass instead of the infinite Run loop.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	item, err := d.store.PushQueueNext(ctx, d.cfg.MessageRetryInterval)
	if err != nil {
		return err
	}
	if item == nil {
		metrics.PushQueueIdle.Inc()
		return sleep(ctx, IdleSleep)
	}

	log := d.log.With("push_queue_id", item.ID, "client_id", item.ClientID, "retries", item.Retries)

	if item.PushSub == nil {
		// Defensive: the enqueue path excludes clients with no push
		// subscription, but a concurrent update_push_sub(null) can race
		// ahead of a lease that already happened.
		log.Info("client gone, dropping queue item")
		metrics.PushAttemptsTotal.WithLabelValues("client_gone").Inc()
		return d.store.PushQueueFinish(ctx, item.ID, true)
	}

	sendErr := d.sender.Notify(ctx, item.PushSub, item.VAPIDPriv, []byte(item.Message))
	if sendErr == nil {
		metrics.PushAttemptsTotal.WithLabelValues("delivered").Inc()
		return d.store.PushQueueFinish(ctx, item.ID, false)
	}

	log.Warn("push delivery failed", "error", sendErr)

	// Retries was already bumped by the lease, so the first delivery
	// attempt carries retries=1: the item survives MaxMessageRetries
	// retries beyond the initial attempt before being dropped.
	if item.Retries > d.cfg.MaxMessageRetries {
		metrics.PushAttemptsTotal.WithLabelValues("unsubscribed").Inc()
		return d.store.PushQueueFinish(ctx, item.ID, true)
	}

	metrics.PushAttemptsTotal.WithLabelValues("retried").Inc()
	return nil
}

func sleep(ctx context.Context, dur time.Duration) error {
	t := time.NewTimer(dur)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
