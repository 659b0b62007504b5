package app

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/alexedwards/argon2id"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/common"
	"github.com/noah-isme/payment-relay/internal/queue"
	"github.com/noah-isme/payment-relay/internal/relay"
)

// AdminAuth guards operator endpoints with a shared token. The configured
// value is an argon2id hash so the plaintext token never lives in the
// environment. An empty hash disables the surface entirely.
func AdminAuth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				common.JSONError(w, http.StatusNotFound, "NOT_FOUND", "not found", nil)
				return
			}
			token := r.Header.Get("X-Admin-Token")
			match, err := argon2id.ComparePasswordAndHash(token, tokenHash)
			if err != nil || !match {
				common.JSONError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid admin token", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HashAdminToken produces the hash to configure for a plaintext admin token.
func HashAdminToken(token string) (string, error) {
	return argon2id.CreateHash(token, argon2id.DefaultParams)
}

// DeadLetterHandler lets operators inspect relay callbacks that exhausted
// their retries.
type DeadLetterHandler struct {
	Redis  *redis.Client
	Prefix string
	Log    zerolog.Logger
}

type deadTask struct {
	OrderID  string `json:"orderId"`
	Status   string `json:"status"`
	Attempts int    `json:"attempts"`
}

// List answers with the buried relay callbacks, newest first.
func (h *DeadLetterHandler) List(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
	tasks, err := queue.DeadTasks(r.Context(), h.Redis, h.Prefix, relay.TaskKind, limit)
	if err != nil {
		h.Log.Error().Err(err).Msg("dead_letter_list_failed")
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "dead letter lookup failed", nil)
		return
	}
	out := make([]deadTask, 0, len(tasks))
	for _, t := range tasks {
		var cb relay.Callback
		if err := json.Unmarshal(t.Payload, &cb); err != nil {
			continue
		}
		out = append(out, deadTask{
			OrderID:  cb.OrderID,
			Status:   string(cb.Status),
			Attempts: t.Attempt,
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"tasks": out})
}
