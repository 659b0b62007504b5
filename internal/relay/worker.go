package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/credentials"
	"github.com/noah-isme/payment-relay/internal/lock"
	"github.com/noah-isme/payment-relay/internal/omnikassa"
	"github.com/noah-isme/payment-relay/internal/queue"
)

// RetryHandler re-delivers queued callbacks. Deliveries for the same order are
// serialised across worker replicas with a distributed lock so the store never
// sees two concurrent callbacks for one order.
type RetryHandler struct {
	Dispatcher  *Dispatcher
	Credentials credentials.Source
	Locks       lock.Locker
	Provider    string
	Env         credentials.Environment
	LockTTL     time.Duration
	Log         zerolog.Logger
}

// Handle processes one retry task. A returned error puts the task back on the
// queue with backoff until its attempts are exhausted.
func (h *RetryHandler) Handle(ctx context.Context, task queue.Task) error {
	var cb Callback
	if err := json.Unmarshal(task.Payload, &cb); err != nil {
		return fmt.Errorf("relay retry: decode payload: %w", err)
	}

	return h.Locks.WithLock(ctx, "relay:order:"+cb.OrderID, h.LockTTL, func(ctx context.Context) error {
		creds, err := h.Credentials.Resolve(ctx, h.Provider, h.Env)
		if err != nil {
			return fmt.Errorf("relay retry: resolve credentials: %w", err)
		}
		if creds.Empty() {
			return fmt.Errorf("relay retry: no credentials for %s/%s", h.Provider, h.Env)
		}
		signer := omnikassa.NewCalculator(creds.SigningKey)
		if err := h.Dispatcher.Deliver(ctx, signer, cb); err != nil {
			return err
		}
		h.Log.Info().
			Str("order_id", cb.OrderID).
			Str("status", string(cb.Status)).
			Int("attempt", task.Attempt).
			Msg("relay_retry_delivered")
		return nil
	})
}
