// Package relay forwards settled payment statuses to the store webhook. The
// store authenticates callbacks with the same signature scheme the gateway
// uses inbound, so a delivered status is verifiable end to end.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/omnikassa"
	"github.com/noah-isme/payment-relay/internal/queue"
	"github.com/noah-isme/payment-relay/internal/resilience"
)

// TaskKind names the retry queue for failed relay deliveries.
const TaskKind = "relay-callback"

// Callback is the unit of relay work. Signatures are never persisted; the
// retry worker re-signs with the current signing key at delivery time.
type Callback struct {
	OrderID string                `json:"orderId"`
	Status  omnikassa.OrderStatus `json:"status"`
}

// Dispatcher delivers status callbacks with bounded concurrency. Failed
// deliveries are handed to the retry queue instead of being dropped.
type Dispatcher struct {
	HTTP        *resilience.HTTPClient
	Queue       *queue.Enqueuer
	Log         zerolog.Logger
	WebhookURL  string
	Concurrency int
	MaxAttempts int
}

// Dispatch fans the callbacks out to the store webhook and blocks until every
// delivery has either succeeded or been queued for retry.
func (d *Dispatcher) Dispatch(ctx context.Context, signer omnikassa.Calculator, callbacks []Callback) {
	if len(callbacks) == 0 {
		return
	}
	concurrency := d.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}

	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for _, cb := range callbacks {
		sem <- struct{}{}
		wg.Add(1)
		go func(cb Callback) {
			defer wg.Done()
			defer func() { <-sem }()
			if err := d.Deliver(ctx, signer, cb); err != nil {
				d.Log.Error().Err(err).
					Str("order_id", cb.OrderID).
					Str("status", string(cb.Status)).
					Msg("relay_delivery_failed")
				d.enqueueRetry(ctx, cb)
			}
		}(cb)
	}
	wg.Wait()
}

// Deliver performs one signed callback to the store webhook. Any non-2xx
// response is a failure.
func (d *Dispatcher) Deliver(ctx context.Context, signer omnikassa.Calculator, cb Callback) error {
	target, err := callbackURL(d.WebhookURL, signer, cb)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}

	start := time.Now()
	resp, err := d.HTTP.Do(ctx, req)
	if err != nil {
		obs.RelayDeliveriesTotal.WithLabelValues("error").Inc()
		obs.RelayAttemptLatency.WithLabelValues("error").Observe(obs.DurationMillis(time.Since(start)))
		return fmt.Errorf("relay %s: %w", cb.OrderID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		obs.RelayDeliveriesTotal.WithLabelValues("rejected").Inc()
		obs.RelayAttemptLatency.WithLabelValues("rejected").Observe(obs.DurationMillis(time.Since(start)))
		return fmt.Errorf("relay %s: store answered %s", cb.OrderID, resp.Status)
	}

	obs.RelayDeliveriesTotal.WithLabelValues("ok").Inc()
	obs.RelayAttemptLatency.WithLabelValues("ok").Observe(obs.DurationMillis(time.Since(start)))
	d.Log.Info().
		Str("order_id", cb.OrderID).
		Str("status", string(cb.Status)).
		Msg("relay_delivered")
	return nil
}

func (d *Dispatcher) enqueueRetry(ctx context.Context, cb Callback) {
	if d.Queue == nil {
		return
	}
	payload, err := json.Marshal(cb)
	if err != nil {
		return
	}
	task := queue.Task{
		Kind:        TaskKind,
		Payload:     payload,
		Key:         cb.OrderID + ":" + string(cb.Status),
		MaxAttempts: d.MaxAttempts,
	}
	if err := d.Queue.Enqueue(ctx, task); err != nil {
		d.Log.Error().Err(err).Str("order_id", cb.OrderID).Msg("relay_retry_enqueue_failed")
	}
}

func callbackURL(webhookURL string, signer omnikassa.Calculator, cb Callback) (string, error) {
	if webhookURL == "" {
		return "", errors.New("relay: store webhook url not configured")
	}
	u, err := url.Parse(webhookURL)
	if err != nil {
		return "", fmt.Errorf("relay: parse webhook url: %w", err)
	}
	q := u.Query()
	q.Set("order_id", cb.OrderID)
	q.Set("status", string(cb.Status))
	q.Set("signature", signer.Sign(cb.OrderID, string(cb.Status)))
	u.RawQuery = q.Encode()
	return u.String(), nil
}
