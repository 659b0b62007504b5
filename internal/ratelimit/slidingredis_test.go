package ratelimit_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-relay/internal/ratelimit"
)

func newLimiter(t *testing.T) ratelimit.Limiter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimit.Limiter{Client: client, Prefix: "rl:"}
}

func TestAllowWithinWindow(t *testing.T) {
	lim := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, remaining, _, err := lim.Allow(ctx, "ip1", time.Minute, 3)
		require.NoError(t, err)
		require.True(t, allowed)
		require.Equal(t, 3-(i+1), remaining)
	}

	allowed, remaining, _, err := lim.Allow(ctx, "ip1", time.Minute, 3)
	require.NoError(t, err)
	require.False(t, allowed)
	require.Zero(t, remaining)
}

func TestAllowKeysAreIndependent(t *testing.T) {
	lim := newLimiter(t)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, _, _, err := lim.Allow(ctx, "ip1", time.Minute, 1)
		require.NoError(t, err)
	}
	allowed, _, _, err := lim.Allow(ctx, "ip2", time.Minute, 1)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestAllowUnconfiguredAllowsEverything(t *testing.T) {
	var lim ratelimit.Limiter
	allowed, _, _, err := lim.Allow(context.Background(), "ip1", time.Minute, 5)
	require.NoError(t, err)
	require.True(t, allowed)
}

func TestMiddlewareRejectsOverLimit(t *testing.T) {
	lim := newLimiter(t)
	h := ratelimit.Handler{
		Limiter: lim,
		Config: ratelimit.Config{
			Key:    func(*http.Request) string { return "client" },
			Window: time.Minute,
			Max:    1,
		},
	}

	var hits int
	wrapped := h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusNoContent)
	}))

	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/return", nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Equal(t, "1", rec.Header().Get("X-RateLimit-Limit"))
	require.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/return", nil))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))
	require.Equal(t, 1, hits)
}

func TestMiddlewareFailsOpenOnRedisError(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	var sawErr error
	h := ratelimit.Handler{
		Limiter: ratelimit.Limiter{Client: client, Prefix: "rl:"},
		Config: ratelimit.Config{
			Key:    func(*http.Request) string { return "client" },
			Window: time.Minute,
			Max:    1,
		},
		OnError: func(err error) { sawErr = err },
	}

	rec := httptest.NewRecorder()
	h.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/payments/return", nil))

	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Error(t, sawErr)
}
