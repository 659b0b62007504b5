package checkout

import (
	"encoding/json"
	"net/http"

	"github.com/noah-isme/payment-relay/internal/common"
	"github.com/noah-isme/payment-relay/internal/obs"
)

// SubmitRequest is the storefront checkout payload.
type SubmitRequest struct {
	InvoiceNumber string   `json:"invoiceNumber"`
	Baskets       []Basket `json:"baskets"`
	Customer      Customer `json:"customer"`
}

// SubmitHandler accepts checkout submissions and answers with a redirect
// result. Recoverable problems still answer 200 with a failed result so the
// storefront can forward the customer to the fail page.
func (s *Service) SubmitHandler(w http.ResponseWriter, r *http.Request) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.Render(w, common.NewAppError("INVALID_BODY", "request body must be valid JSON", http.StatusBadRequest, err))
		return
	}
	if req.InvoiceNumber == "" {
		common.Render(w, common.NewAppError("VALIDATION_ERROR", "invoiceNumber is required", http.StatusBadRequest, nil))
		return
	}
	if len(req.Baskets) == 0 {
		common.Render(w, common.NewAppError("VALIDATION_ERROR", "at least one basket is required", http.StatusBadRequest, nil))
		return
	}

	result, err := s.Submit(r.Context(), req.Baskets, req.Customer, req.InvoiceNumber)
	if err != nil {
		s.Log.Error().Err(err).Str("invoice_number", req.InvoiceNumber).Msg("checkout submission failed")
		obs.CheckoutSubmissionsTotal.WithLabelValues(req.Customer.PaymentMethod, "error").Inc()
		common.Render(w, common.NewAppError("GATEWAY_ERROR", "payment provider is unavailable", http.StatusBadGateway, err))
		return
	}

	outcome := "rejected"
	if result.Successful {
		outcome = "accepted"
	}
	obs.CheckoutSubmissionsTotal.WithLabelValues(req.Customer.PaymentMethod, outcome).Inc()
	common.JSON(w, http.StatusOK, result)
}
