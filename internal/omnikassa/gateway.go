package omnikassa

import (
	"context"
	"errors"
	"fmt"
)

// Gateway abstracts the two gateway calls the relay depends on. Implementations
// carry transport only; signature verification stays with the caller so the
// protocol logic can be tested against doubles.
type Gateway interface {
	// Announce submits a merchant order and returns the hosted payment page URL.
	Announce(ctx context.Context, order MerchantOrder, creds Credentials) (string, error)
	// FetchStatuses retrieves the next page of queued order status results for
	// the notification's authentication token.
	FetchStatuses(ctx context.Context, notificationToken string, creds Credentials) (StatusPage, error)
}

// ErrSignatureMismatch marks inbound gateway data whose signature did not
// verify. Such data is never trusted and the surrounding flow aborts without
// side effects.
var ErrSignatureMismatch = errors.New("omnikassa: signature mismatch")

// AuthenticationError indicates the gateway rejected our credentials.
type AuthenticationError struct {
	Operation string
	Status    int
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("omnikassa: %s rejected with status %d: invalid or expired token", e.Operation, e.Status)
}

// IsAuthenticationError reports whether err wraps an AuthenticationError.
func IsAuthenticationError(err error) bool {
	var target *AuthenticationError
	return errors.As(err, &target)
}
