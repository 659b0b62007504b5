package omnikassa

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"strings"
)

// Calculator signs and verifies the gateway's field tuples. The gateway signs
// a comma-joined list of field values with HMAC-SHA512 keyed by the shared
// signing key, encoded as lowercase hex. The same function authenticates
// inbound gateway data and outbound relay callbacks.
type Calculator struct {
	key []byte
}

// NewCalculator returns a calculator for the provided signing key.
func NewCalculator(signingKey []byte) Calculator {
	return Calculator{key: signingKey}
}

// Sign computes the signature over the field tuple.
func (c Calculator) Sign(fields ...string) string {
	mac := hmac.New(sha512.New, c.key)
	_, _ = mac.Write([]byte(strings.Join(fields, ",")))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether provided matches the signature of the field tuple.
// Comparison is constant time; an empty key or empty signature never verifies.
func (c Calculator) Verify(provided string, fields ...string) bool {
	provided = strings.TrimSpace(provided)
	if len(c.key) == 0 || provided == "" {
		return false
	}
	expected := c.Sign(fields...)
	return hmac.Equal([]byte(expected), []byte(provided))
}
