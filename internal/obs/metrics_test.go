package obs_test

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-relay/internal/obs"
)

func TestParseBucketsCSV(t *testing.T) {
	require.Nil(t, obs.ParseBucketsCSV(""))
	require.Nil(t, obs.ParseBucketsCSV("   "))
	require.Equal(t, []float64{5, 50, 500}, obs.ParseBucketsCSV("5, 50,500"))
	// Invalid and non-positive entries are skipped.
	require.Equal(t, []float64{10, 100}, obs.ParseBucketsCSV("10,abc,-1,0,100"))
}

func TestDurationMillis(t *testing.T) {
	require.Equal(t, 1500.0, obs.DurationMillis(1500*time.Millisecond))
	require.Equal(t, 0.5, obs.DurationMillis(500*time.Microsecond))
}

func TestNewHTTPMetricsRegistersOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := obs.NewHTTPMetrics("payment_relay", nil, reg)
	require.NotNil(t, m.ReqTotal)

	// A second call against the same registry must not panic.
	require.NotPanics(t, func() {
		obs.NewHTTPMetrics("payment_relay", []float64{100, 10}, reg)
	})
}

func TestMustRegisterDomainMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NotPanics(t, func() {
		obs.MustRegisterDomainMetrics("payment_relay", reg)
		obs.MustRegisterDomainMetrics("payment_relay", reg)
	})
	obs.CheckoutSubmissionsTotal.WithLabelValues("IDEAL", "accepted").Inc()
}
