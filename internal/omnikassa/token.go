package omnikassa

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// checkAccessToken inspects the access token issued by the gatekeeper. The
// gateway signs its own tokens so the signature is not verified here; only the
// expiry claim is sanity-checked to fail before the announce call would.
func checkAccessToken(raw string, now time.Time) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return errors.New("omnikassa: gatekeeper returned an empty access token")
	}
	tok, err := jwt.Parse([]byte(raw), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		// Not every deployment issues JWT access tokens; opaque tokens pass.
		return nil
	}
	if exp := tok.Expiration(); !exp.IsZero() && exp.Before(now) {
		return fmt.Errorf("omnikassa: access token expired at %s", exp.Format(time.RFC3339))
	}
	return nil
}
