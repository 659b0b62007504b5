package callback

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/payment-relay/internal/common"
	"github.com/noah-isme/payment-relay/internal/statuslog"
)

// StatusHandler exposes the most recently observed status for an order.
type StatusHandler struct {
	Status   *statuslog.Logger
	Provider string
}

type statusResponse struct {
	OrderID    string    `json:"orderId"`
	Status     string    `json:"status"`
	Terminal   bool      `json:"terminal"`
	ObservedAt time.Time `json:"observedAt"`
}

// Get answers with the latest recorded status transition.
func (h *StatusHandler) Get(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")
	entry, err := h.Status.Latest(r.Context(), h.Provider, orderID)
	if err != nil {
		if errors.Is(err, statuslog.ErrNotFound) {
			common.Render(w, common.NewAppError("NOT_FOUND", "no status recorded for order", http.StatusNotFound, err))
			return
		}
		common.Render(w, common.NewAppError("INTERNAL", "status lookup failed", http.StatusInternalServerError, err))
		return
	}
	common.JSON(w, http.StatusOK, statusResponse{
		OrderID:    orderID,
		Status:     string(entry.Status),
		Terminal:   entry.Status.Terminal(),
		ObservedAt: entry.ObservedAt,
	})
}
