package callback

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/credentials"
	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/omnikassa"
	"github.com/noah-isme/payment-relay/internal/relay"
	"github.com/noah-isme/payment-relay/internal/statuslog"
)

// Poller drains the gateway's status result queue after a notification.
// Pages are consumed on the gateway side as they are fetched, so processing
// is at-least-once: a failure mid-drain loses nothing that a later
// notification or retry cannot redeliver, but already relayed statuses may be
// relayed again. The store webhook treats callbacks idempotently.
type Poller struct {
	Gateway     omnikassa.Gateway
	Credentials credentials.Source
	Relay       *relay.Dispatcher
	Status      *statuslog.Logger
	Log         zerolog.Logger

	Provider string
	Env      credentials.Environment
}

// Process verifies the notification and drains all queued status pages. It
// returns an error only when a retry of the same notification could finish
// the drain: credentials not yet available, or a gateway fetch failure.
// Verification failures return nil and abort silently: unauthenticated data
// never causes side effects, and retrying cannot make a forged payload
// verify.
func (p *Poller) Process(ctx context.Context, notif omnikassa.Notification) error {
	log := p.Log.With().Str("event", notif.EventName).Logger()

	if notif.EventName != omnikassa.StatusChangedEvent {
		log.Debug().Msg("notification_event_ignored")
		obs.NotificationWebhookTotal.WithLabelValues("ignored").Inc()
		return nil
	}

	creds, err := p.Credentials.Resolve(ctx, p.Provider, p.Env)
	if err != nil {
		log.Error().Err(err).Msg("poll_credentials_unavailable")
		obs.NotificationWebhookTotal.WithLabelValues("no_credentials").Inc()
		return fmt.Errorf("resolve credentials: %w", err)
	}
	if creds.Empty() {
		obs.NotificationWebhookTotal.WithLabelValues("no_credentials").Inc()
		return fmt.Errorf("no credentials for provider %q", p.Provider)
	}

	signer := omnikassa.NewCalculator(creds.SigningKey)
	if !signer.Verify(notif.Signature, notif.SignatureFields()...) {
		log.Warn().Msg("notification_signature_rejected")
		obs.NotificationWebhookTotal.WithLabelValues("invalid_signature").Inc()
		return nil
	}
	obs.NotificationWebhookTotal.WithLabelValues("accepted").Inc()

	for {
		page, err := p.Gateway.FetchStatuses(ctx, notif.Authentication, creds)
		if err != nil {
			log.Error().Err(err).Msg("poll_fetch_failed")
			obs.PollBatchesTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("fetch statuses: %w", err)
		}
		if !signer.Verify(page.Signature, page.SignatureFields()...) {
			log.Warn().Msg("poll_page_signature_rejected")
			obs.PollBatchesTotal.WithLabelValues("invalid_signature").Inc()
			return nil
		}
		obs.PollBatchesTotal.WithLabelValues("ok").Inc()

		p.handlePage(ctx, signer, page)

		if !page.MoreAvailable {
			return nil
		}
	}
}

func (p *Poller) handlePage(ctx context.Context, signer omnikassa.Calculator, page omnikassa.StatusPage) {
	callbacks := make([]relay.Callback, 0, len(page.Results))
	for _, result := range page.Results {
		p.Status.Record(ctx, p.Provider, result.MerchantOrderID, result.OrderStatus)
		if result.OrderStatus == omnikassa.StatusInProgress {
			// IN_PROGRESS is the only informational status. Everything else,
			// documented or not, means the payment left IN_PROGRESS and the
			// store must hear about it.
			continue
		}
		callbacks = append(callbacks, relay.Callback{
			OrderID: result.MerchantOrderID,
			Status:  result.OrderStatus,
		})
	}
	p.Relay.Dispatch(ctx, signer, callbacks)
}
