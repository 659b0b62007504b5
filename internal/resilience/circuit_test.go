package resilience_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-relay/internal/resilience"
)

func TestBreakerOpensOnFailureRatio(t *testing.T) {
	b := resilience.NewBreaker(4, 0.5, time.Hour).WithTarget("gateway")

	b.Report(true)
	b.Report(false)
	b.Report(true)
	require.True(t, b.Allow())

	b.Report(false) // 2/4 failures hits the threshold
	require.False(t, b.Allow())
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	b := resilience.NewBreaker(1, 0.5, 20*time.Millisecond)
	b.Report(false)
	require.False(t, b.Allow())

	time.Sleep(30 * time.Millisecond)
	require.True(t, b.Allow(), "cool-off expired, one probe allowed")

	b.Report(false)
	require.False(t, b.Allow(), "failed probe re-opens the breaker")

	time.Sleep(30 * time.Millisecond)
	require.True(t, b.Allow())
	b.Report(true)
	require.True(t, b.Allow(), "successful probe closes the breaker")
}

func TestBackoff(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, resilience.Backoff(100*time.Millisecond, 1, 0))
	require.Equal(t, 400*time.Millisecond, resilience.Backoff(100*time.Millisecond, 3, 0))
	require.Equal(t, 100*time.Millisecond, resilience.Backoff(0, 0, 0))

	jittered := resilience.Backoff(100*time.Millisecond, 2, 0.2)
	require.InDelta(t, float64(200*time.Millisecond), float64(jittered), float64(40*time.Millisecond))
}
