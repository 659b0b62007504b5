package callback

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/common"
	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/omnikassa"
)

const maxNotificationBytes = 64 << 10

// WebhookHandler receives the gateway's status notifications. It always
// answers 200: the gateway keeps its result queue until drained, so there is
// nothing useful to signal back, and error responses would only trigger
// gateway-side retries of a notification we already acted on.
type WebhookHandler struct {
	Poller    *Poller
	Redis     *redis.Client
	ReplayTTL time.Duration
	Log       zerolog.Logger
}

// ServeHTTP parses and processes one notification.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		h.Log.Warn().Err(err).Msg("notification_body_unreadable")
		obs.NotificationWebhookTotal.WithLabelValues("unreadable").Inc()
		h.ok(w)
		return
	}

	if h.replayed(r.Context(), body) {
		obs.NotificationWebhookTotal.WithLabelValues("replayed").Inc()
		h.ok(w)
		return
	}

	var notif omnikassa.Notification
	if err := json.Unmarshal(body, &notif); err != nil {
		h.Log.Warn().Err(err).Msg("notification_body_invalid")
		obs.NotificationWebhookTotal.WithLabelValues("invalid_body").Inc()
		h.markProcessed(r.Context(), body)
		h.ok(w)
		return
	}

	if err := h.Poller.Process(r.Context(), notif); err != nil {
		// Leave the body unmarked so a gateway-side retry of the same
		// notification can finish the drain.
		h.Log.Warn().Err(err).Msg("notification_drain_incomplete")
		h.ok(w)
		return
	}
	h.markProcessed(r.Context(), body)
	h.ok(w)
}

// replayed reports whether a byte-identical notification body was already
// drained within the TTL. On Redis errors the notification is processed
// anyway; polling is idempotent enough that a duplicate drain is harmless.
func (h *WebhookHandler) replayed(ctx context.Context, body []byte) bool {
	if h.Redis == nil {
		return false
	}
	seen, err := h.Redis.Exists(ctx, replayKey(body)).Result()
	if err != nil {
		h.Log.Warn().Err(err).Msg("notification_replay_check_failed")
		return false
	}
	return seen > 0
}

// markProcessed records the body hash once the drain succeeded. Marking after
// the fact means two concurrent duplicates may both drain, which the
// at-least-once relay already tolerates; a mark set before a failed drain
// would suppress the retry that could complete it.
func (h *WebhookHandler) markProcessed(ctx context.Context, body []byte) {
	if h.Redis == nil {
		return
	}
	ttl := h.ReplayTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if err := h.Redis.Set(ctx, replayKey(body), "1", ttl).Err(); err != nil {
		h.Log.Warn().Err(err).Msg("notification_replay_mark_failed")
	}
}

func replayKey(body []byte) string {
	return "wh:omnikassa:" + common.Sha256Hex(string(body))
}

func (h *WebhookHandler) ok(w http.ResponseWriter) {
	w.WriteHeader(http.StatusOK)
}
