// Package webpush defines the WebPushSender collaborator the push
// dispatcher uses to deliver encrypted messages to browser endpoints,
// and wraps a concrete github.com/SherClockHolmes/webpush-go sender with
// a rate limiter so a burst of queued notifications cannot hammer a
// single push service.
package webpush

import (
	"context"
	"fmt"
	"net/http"

	webpushgo "github.com/SherClockHolmes/webpush-go"
	"golang.org/x/time/rate"

	"github.com/adindex/adindex/internal/store"
)

// Sender is the external collaborator that delivers one push message to
// one browser endpoint. A nil error means the push service accepted the
// message (any 2xx status, normally 201); any non-nil error is treated as a transient
// delivery failure by the dispatcher and counts against the queue item's
// retry budget.
type Sender interface {
	Notify(ctx context.Context, sub *store.PushSubscription, vapidPriv []byte, message []byte) error
}

// VAPIDSender sends web-push notifications via webpush-go, signing each
// request with the recipient client's own VAPID keypair.
type VAPIDSender struct {
	subject string
	limiter *rate.Limiter
	ttl     int
}

// NewVAPIDSender returns a Sender that signs requests as subject (a
// "mailto:" or "https:" VAPID JWT subject claim) and never issues more
// than ratePerSecond requests per second.
func NewVAPIDSender(subject string, ratePerSecond float64) *VAPIDSender {
	if ratePerSecond <= 0 {
		ratePerSecond = 10
	}
	return &VAPIDSender{
		subject: subject,
		limiter: rate.NewLimiter(rate.Limit(ratePerSecond), 1),
		ttl:     86400,
	}
}

// Notify signs and sends message to sub, blocking until the rate limiter
// admits the call or ctx is cancelled.
func (v *VAPIDSender) Notify(ctx context.Context, sub *store.PushSubscription, vapidPriv []byte, message []byte) error {
	if sub == nil {
		return fmt.Errorf("webpush: no push subscription")
	}

	if err := v.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("webpush: rate limiter: %w", err)
	}

	privB64, pubB64, err := decodeVAPIDKeyPair(vapidPriv)
	if err != nil {
		return fmt.Errorf("webpush: vapid keys: %w", err)
	}

	resp, err := webpushgo.SendNotification(message, &webpushgo.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpushgo.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpushgo.Options{
		VAPIDPublicKey:  pubB64,
		VAPIDPrivateKey: privB64,
		Subscriber:      v.subject,
		TTL:             v.ttl,
	})
	if err != nil {
		return fmt.Errorf("webpush: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone {
		return fmt.Errorf("webpush: endpoint gone (status %d)", resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webpush: unexpected status %d", resp.StatusCode)
	}
	return nil
}
