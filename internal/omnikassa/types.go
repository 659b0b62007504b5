package omnikassa

// Money is a monetary amount expressed in minor units of its currency.
type Money struct {
	Currency string `json:"currency" validate:"required,len=3"`
	Amount   int64  `json:"amount" validate:"gte=0"`
}

// Address carries the customer address fields the gateway accepts.
type Address struct {
	FirstName           string      `json:"firstName"`
	LastName            string      `json:"lastName"`
	Street              string      `json:"street" validate:"required"`
	PostalCode          string      `json:"postalCode" validate:"required"`
	City                string      `json:"city" validate:"required"`
	CountryCode         CountryCode `json:"countryCode" validate:"required"`
	HouseNumber         string      `json:"houseNumber,omitempty"`
	HouseNumberAddition string      `json:"houseNumberAddition,omitempty"`
}

// OrderItem is a single basket line in the gateway's vocabulary.
type OrderItem struct {
	ID          string `json:"id"`
	Name        string `json:"name" validate:"required"`
	Description string `json:"description"`
	Quantity    int    `json:"quantity" validate:"gt=0"`
	Amount      Money  `json:"amount"`
}

// MerchantOrder is the gateway's representation of one checkout attempt.
// It is built once per checkout, never mutated, and announced once.
type MerchantOrder struct {
	MerchantOrderID   string      `json:"merchantOrderId" validate:"required"`
	Amount            Money       `json:"amount"`
	MerchantReturnURL string      `json:"merchantReturnUrl" validate:"required,url"`
	OrderItems        []OrderItem `json:"orderItems" validate:"min=1,dive"`
	BillingDetail     Address     `json:"billingDetail"`
	ShippingDetail    *Address    `json:"shippingDetail,omitempty"`
	PaymentBrand      Brand       `json:"paymentBrand" validate:"required"`
	PaymentBrandForce string      `json:"paymentBrandForce" validate:"required"`
}

// Notification is the envelope the gateway POSTs to the webhook when order
// statuses are queued for retrieval.
type Notification struct {
	Authentication string `json:"authentication"`
	Expiry         string `json:"expiry"`
	EventName      string `json:"eventName"`
	PoiID          string `json:"poiId"`
	Signature      string `json:"signature"`
}

// SignatureFields returns the signed tuple of the notification, in wire order.
func (n Notification) SignatureFields() []string {
	return []string{n.Authentication, n.Expiry, n.EventName, n.PoiID}
}

// OrderResult is one order status entry in a polled status page.
type OrderResult struct {
	MerchantOrderID string      `json:"merchantOrderId"`
	OrderStatus     OrderStatus `json:"orderStatus"`
}

// StatusPage is one page of queued order status results.
type StatusPage struct {
	MoreAvailable bool          `json:"moreOrderResultsAvailable"`
	Results       []OrderResult `json:"orderResults"`
	Signature     string        `json:"signature"`
}

// SignatureFields returns the signed tuple of the page: the continuation flag
// followed by each result's order id and status, in page order.
func (p StatusPage) SignatureFields() []string {
	fields := make([]string, 0, 1+2*len(p.Results))
	if p.MoreAvailable {
		fields = append(fields, "true")
	} else {
		fields = append(fields, "false")
	}
	for _, r := range p.Results {
		fields = append(fields, r.MerchantOrderID, string(r.OrderStatus))
	}
	return fields
}

// Credentials holds the gateway secrets for one environment. They are loaded
// per request and must not outlive it.
type Credentials struct {
	RefreshToken string
	SigningKey   []byte
}

// Empty reports whether no credentials are configured.
func (c Credentials) Empty() bool {
	return c.RefreshToken == "" && len(c.SigningKey) == 0
}
