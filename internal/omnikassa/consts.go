package omnikassa

import "strings"

// OrderStatus is the status of a merchant order as reported by the gateway.
type OrderStatus string

const (
	StatusInProgress OrderStatus = "IN_PROGRESS"
	StatusCompleted  OrderStatus = "COMPLETED"
	StatusCancelled  OrderStatus = "CANCELLED"
	StatusExpired    OrderStatus = "EXPIRED"
)

// Terminal reports whether no further transitions are expected for the status.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// Known reports whether the status is part of the gateway's documented domain.
func (s OrderStatus) Known() bool {
	switch s {
	case StatusInProgress, StatusCompleted, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// ParseOrderStatus normalises a raw status label. Unknown labels are returned
// as-is so callers can log them; use Known to branch.
func ParseOrderStatus(raw string) OrderStatus {
	return OrderStatus(strings.ToUpper(strings.TrimSpace(raw)))
}

// Brand identifies a payment method supported by the gateway.
type Brand string

const (
	BrandIdeal      Brand = "IDEAL"
	BrandBancontact Brand = "BANCONTACT"
	BrandVisa       Brand = "VISA"
	BrandMastercard Brand = "MASTERCARD"
	BrandMaestro    Brand = "MAESTRO"
	BrandVPay       Brand = "V_PAY"
	BrandPayPal     Brand = "PAYPAL"
	BrandAfterPay   Brand = "AFTERPAY"
)

var brands = map[string]Brand{
	"IDEAL":      BrandIdeal,
	"BANCONTACT": BrandBancontact,
	"VISA":       BrandVisa,
	"MASTERCARD": BrandMastercard,
	"MAESTRO":    BrandMaestro,
	"V_PAY":      BrandVPay,
	"PAYPAL":     BrandPayPal,
	"AFTERPAY":   BrandAfterPay,
}

// ParseBrand maps a payment method name onto a gateway brand. Matching is
// case-insensitive; the boolean reports whether the brand is supported.
func ParseBrand(raw string) (Brand, bool) {
	b, ok := brands[strings.ToUpper(strings.TrimSpace(raw))]
	return b, ok
}

// CountryCode is an ISO 3166-1 alpha-2 country accepted by the gateway.
type CountryCode string

var countries = map[string]struct{}{
	"AT": {}, "BE": {}, "CH": {}, "DE": {}, "DK": {}, "ES": {},
	"FI": {}, "FR": {}, "GB": {}, "IE": {}, "IT": {}, "LU": {},
	"NL": {}, "NO": {}, "PL": {}, "PT": {}, "SE": {},
}

// ParseCountryCode maps an ISO code onto a gateway country. Matching is
// case-insensitive; the boolean reports whether the country is supported.
func ParseCountryCode(raw string) (CountryCode, bool) {
	code := strings.ToUpper(strings.TrimSpace(raw))
	if _, ok := countries[code]; !ok {
		return "", false
	}
	return CountryCode(code), true
}

// BrandForceAlways instructs the gateway to pin the customer to the selected
// payment brand for the whole session.
const BrandForceAlways = "FORCE_ALWAYS"

// StatusChangedEvent is the only event the gateway notifies about.
const StatusChangedEvent = "merchant.order.status.changed"
