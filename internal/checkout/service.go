package checkout

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/noah-isme/payment-relay/internal/credentials"
	"github.com/noah-isme/payment-relay/internal/omnikassa"
)

// ProviderName identifies the gateway in credential rows and log fields.
const ProviderName = "omnikassa"

// Result is the outcome of a checkout submission. Successful submissions carry
// the hosted payment page URL; failed ones carry the storefront fail URL so
// the customer is always redirected somewhere.
type Result struct {
	Successful bool   `json:"successful"`
	Action     string `json:"action"`
	ActionData string `json:"actionData"`
	Message    string `json:"message,omitempty"`
}

// Service builds merchant orders and announces them to the gateway.
type Service struct {
	Gateway     omnikassa.Gateway
	Credentials credentials.Source
	Validate    *validator.Validate
	Log         zerolog.Logger

	ReturnURL string
	FailURL   string
	Currency  string
	Env       credentials.Environment
}

func redirect(url string) Result {
	return Result{Successful: true, Action: "Redirect", ActionData: url}
}

func (s *Service) failed(message string) Result {
	return Result{Successful: false, Action: "Redirect", ActionData: s.FailURL, Message: message}
}

// Submit maps the baskets to a merchant order and announces it. Mapping and
// configuration problems come back as failed results rather than errors: the
// storefront always gets a redirect to show the customer.
func (s *Service) Submit(ctx context.Context, baskets []Basket, customer Customer, invoiceNumber string) (Result, error) {
	log := s.Log.With().Str("invoice_number", invoiceNumber).Logger()

	order, err := BuildOrder(baskets, customer, s.ReturnURL, invoiceNumber, s.Currency)
	if err != nil {
		var mapErr *MappingError
		if errors.As(err, &mapErr) {
			log.Warn().Str("kind", string(mapErr.Kind)).Str("value", mapErr.Value).Msg("checkout mapping rejected")
			return s.failed(mapErr.Error()), nil
		}
		return Result{}, fmt.Errorf("build order: %w", err)
	}

	if err := s.Validate.Struct(order); err != nil {
		log.Warn().Err(err).Msg("checkout order invalid")
		return s.failed("order is incomplete"), nil
	}

	creds, err := s.Credentials.Resolve(ctx, ProviderName, s.Env)
	if err != nil {
		return Result{}, fmt.Errorf("resolve credentials: %w", err)
	}
	if creds.Empty() {
		log.Error().Str("environment", string(s.Env)).Msg("gateway credentials missing")
		return s.failed("payment provider is not configured"), nil
	}

	redirectURL, err := s.Gateway.Announce(ctx, order, creds)
	if err != nil {
		if omnikassa.IsAuthenticationError(err) {
			log.Error().Err(err).Msg("gateway rejected credentials")
			return s.failed("payment provider rejected the request"), nil
		}
		return Result{}, fmt.Errorf("announce order: %w", err)
	}

	log.Info().Str("payment_brand", string(order.PaymentBrand)).Msg("order announced")
	return redirect(redirectURL), nil
}
