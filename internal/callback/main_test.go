package callback_test

import (
	"context"
	"os"
	"testing"

	"github.com/noah-isme/payment-relay/internal/credentials"
	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/omnikassa"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("test", nil)
	os.Exit(m.Run())
}

type stubCredentials struct {
	creds omnikassa.Credentials
	err   error
}

func (s stubCredentials) Resolve(context.Context, string, credentials.Environment) (omnikassa.Credentials, error) {
	return s.creds, s.err
}
