package checkout

import (
	"fmt"
	"strings"

	"github.com/noah-isme/payment-relay/internal/omnikassa"
)

// BasketLine is one purchasable line inside a basket.
type BasketLine struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unitPrice"`
}

// Basket groups lines with their provider-tax-inclusive computed total.
type Basket struct {
	Lines []BasketLine `json:"lines"`
	Total int64        `json:"total"`
}

// Customer carries the address and payment method fields collected at
// checkout. Shipping fields follow the storefront's prefix convention; they
// are only honoured when street, postal code, city and country are all set.
type Customer struct {
	FirstName           string `json:"firstName"`
	LastName            string `json:"lastName"`
	Street              string `json:"street"`
	PostalCode          string `json:"postalCode"`
	City                string `json:"city"`
	Country             string `json:"country"`
	HouseNumber         string `json:"houseNumber"`
	HouseNumberAddition string `json:"houseNumberAddition"`

	ShippingFirstName           string `json:"shippingFirstName"`
	ShippingLastName            string `json:"shippingLastName"`
	ShippingStreet              string `json:"shippingStreet"`
	ShippingPostalCode          string `json:"shippingPostalCode"`
	ShippingCity                string `json:"shippingCity"`
	ShippingCountry             string `json:"shippingCountry"`
	ShippingHouseNumber         string `json:"shippingHouseNumber"`
	ShippingHouseNumberAddition string `json:"shippingHouseNumberAddition"`

	PaymentMethod string `json:"paymentMethod"`
}

// MappingErrorKind distinguishes the recoverable mapping failures.
type MappingErrorKind string

const (
	UnsupportedCountry MappingErrorKind = "UnsupportedCountry"
	UnsupportedBrand   MappingErrorKind = "UnsupportedBrand"
)

// MappingError reports a basket or customer value the gateway vocabulary
// cannot express. It is recoverable: callers answer with a failed redirect
// result instead of an HTTP error.
type MappingError struct {
	Kind  MappingErrorKind
	Value string
}

func (e *MappingError) Error() string {
	switch e.Kind {
	case UnsupportedCountry:
		return fmt.Sprintf("checkout: country %q is not supported by the gateway", e.Value)
	case UnsupportedBrand:
		return fmt.Sprintf("checkout: payment method %q is not supported by the gateway", e.Value)
	default:
		return fmt.Sprintf("checkout: mapping failed for %q", e.Value)
	}
}

// BuildOrder maps baskets and customer data into a merchant order. The order
// amount is the sum of the per-basket computed totals. The payment brand is
// always forced so the customer cannot switch methods on the hosted page.
func BuildOrder(baskets []Basket, customer Customer, returnURL, invoiceNumber, currency string) (omnikassa.MerchantOrder, error) {
	var zero omnikassa.MerchantOrder

	brand, ok := omnikassa.ParseBrand(customer.PaymentMethod)
	if !ok {
		return zero, &MappingError{Kind: UnsupportedBrand, Value: customer.PaymentMethod}
	}

	billing, err := buildAddress(
		customer.FirstName, customer.LastName,
		customer.Street, customer.PostalCode, customer.City, customer.Country,
		customer.HouseNumber, customer.HouseNumberAddition,
	)
	if err != nil {
		return zero, err
	}

	shipping := billing
	if hasShippingAddress(customer) {
		shipping, err = buildAddress(
			customer.ShippingFirstName, customer.ShippingLastName,
			customer.ShippingStreet, customer.ShippingPostalCode, customer.ShippingCity, customer.ShippingCountry,
			customer.ShippingHouseNumber, customer.ShippingHouseNumberAddition,
		)
		if err != nil {
			return zero, err
		}
	}

	var total int64
	items := make([]omnikassa.OrderItem, 0)
	for _, basket := range baskets {
		total += basket.Total
		for _, line := range basket.Lines {
			items = append(items, mapLine(line, currency))
		}
	}

	return omnikassa.MerchantOrder{
		MerchantOrderID:   strings.TrimSpace(invoiceNumber),
		Amount:            omnikassa.Money{Currency: currency, Amount: total},
		MerchantReturnURL: returnURL,
		OrderItems:        items,
		BillingDetail:     billing,
		ShippingDetail:    &shipping,
		PaymentBrand:      brand,
		PaymentBrandForce: omnikassa.BrandForceAlways,
	}, nil
}

func mapLine(line BasketLine, currency string) omnikassa.OrderItem {
	name := strings.TrimSpace(line.Name)
	if name == "" {
		// Coupon-like lines carry no title; the description stands in.
		name = strings.TrimSpace(line.Description)
	}
	qty := line.Quantity
	if qty < 1 {
		qty = 1
	}
	return omnikassa.OrderItem{
		ID:          line.ID,
		Name:        name,
		Description: strings.TrimSpace(line.Description),
		Quantity:    qty,
		Amount:      omnikassa.Money{Currency: currency, Amount: line.UnitPrice},
	}
}

func buildAddress(firstName, lastName, street, postalCode, city, country, houseNumber, houseNumberAddition string) (omnikassa.Address, error) {
	code, ok := omnikassa.ParseCountryCode(country)
	if !ok {
		return omnikassa.Address{}, &MappingError{Kind: UnsupportedCountry, Value: country}
	}
	return omnikassa.Address{
		FirstName:           strings.TrimSpace(firstName),
		LastName:            strings.TrimSpace(lastName),
		Street:              strings.TrimSpace(street),
		PostalCode:          strings.TrimSpace(postalCode),
		City:                strings.TrimSpace(city),
		CountryCode:         code,
		HouseNumber:         strings.TrimSpace(houseNumber),
		HouseNumberAddition: strings.TrimSpace(houseNumberAddition),
	}, nil
}

// hasShippingAddress requires all four mandatory fields; partial shipping
// data is discarded wholesale and billing is reused.
func hasShippingAddress(c Customer) bool {
	return strings.TrimSpace(c.ShippingStreet) != "" &&
		strings.TrimSpace(c.ShippingPostalCode) != "" &&
		strings.TrimSpace(c.ShippingCity) != "" &&
		strings.TrimSpace(c.ShippingCountry) != ""
}
