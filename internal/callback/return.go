// Package callback handles the gateway's inbound surfaces: the customer
// return redirect and the status notification webhook with its poll loop.
package callback

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/credentials"
	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/omnikassa"
	"github.com/noah-isme/payment-relay/internal/statuslog"
)

// ReturnHandler resolves where the customer lands after the hosted payment
// page. The redirect target is decided by the signed status only; the query
// string is attacker-controlled until the signature verifies.
type ReturnHandler struct {
	Credentials credentials.Source
	Status      *statuslog.Logger
	Log         zerolog.Logger

	Provider string
	Env      credentials.Environment

	SuccessURL string
	PendingURL string
	FailURL    string
}

// ServeHTTP answers the return redirect. An invalid or missing signature sends
// the customer to the fail page without leaking why.
func (h *ReturnHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	orderID := q.Get("order_id")
	status := q.Get("status")
	signature := q.Get("signature")

	creds, err := h.Credentials.Resolve(r.Context(), h.Provider, h.Env)
	if err != nil || creds.Empty() {
		if err != nil {
			h.Log.Error().Err(err).Msg("return_credentials_unavailable")
		}
		h.redirect(w, r, h.FailURL, "unverifiable")
		return
	}

	signer := omnikassa.NewCalculator(creds.SigningKey)
	if !signer.Verify(signature, orderID, status) {
		h.Log.Warn().Str("order_id", orderID).Msg("return_signature_rejected")
		h.redirect(w, r, h.FailURL, "invalid_signature")
		return
	}

	parsed := omnikassa.ParseOrderStatus(status)
	if parsed.Known() {
		h.Status.Record(r.Context(), h.Provider, orderID, parsed)
	}

	switch {
	case parsed == omnikassa.StatusCompleted:
		h.redirect(w, r, h.SuccessURL, "success")
	case parsed == omnikassa.StatusInProgress && h.PendingURL != "":
		h.redirect(w, r, h.PendingURL, "pending")
	case parsed == omnikassa.StatusInProgress:
		// No dedicated pending page configured; treat it as a success landing.
		h.redirect(w, r, h.SuccessURL, "success")
	default:
		h.redirect(w, r, h.FailURL, "failed")
	}
}

func (h *ReturnHandler) redirect(w http.ResponseWriter, r *http.Request, target, state string) {
	obs.ReturnRedirectsTotal.WithLabelValues(state).Inc()
	http.Redirect(w, r, target, http.StatusFound)
}
