package checkout_test

import (
	"os"
	"testing"

	"github.com/noah-isme/payment-relay/internal/obs"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("test", nil)
	os.Exit(m.Run())
}
