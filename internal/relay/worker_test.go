package relay_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-relay/internal/credentials"
	"github.com/noah-isme/payment-relay/internal/lock"
	"github.com/noah-isme/payment-relay/internal/omnikassa"
	"github.com/noah-isme/payment-relay/internal/queue"
	"github.com/noah-isme/payment-relay/internal/relay"
)

type stubCredentials struct {
	creds omnikassa.Credentials
	err   error
}

func (s stubCredentials) Resolve(context.Context, string, credentials.Environment) (omnikassa.Credentials, error) {
	return s.creds, s.err
}

func retryTask(t *testing.T, cb relay.Callback) queue.Task {
	t.Helper()
	payload, err := json.Marshal(cb)
	require.NoError(t, err)
	return queue.Task{Kind: relay.TaskKind, Payload: payload, Attempt: 2, MaxAttempts: 5}
}

func newRetryHandler(t *testing.T, srv *httptest.Server, creds stubCredentials) *relay.RetryHandler {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return &relay.RetryHandler{
		Dispatcher:  newDispatcher(srv, 1),
		Credentials: creds,
		Locks:       lock.Locker{R: client, RetryBackoff: 10 * time.Millisecond},
		Provider:    "omnikassa",
		Env:         credentials.EnvironmentTest,
		LockTTL:     time.Second,
		Log:         zerolog.Nop(),
	}
}

func TestRetryHandlerRedelivers(t *testing.T) {
	calc := omnikassa.NewCalculator(relaySigningKey)
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	handler := newRetryHandler(t, srv, stubCredentials{
		creds: omnikassa.Credentials{RefreshToken: "rt", SigningKey: relaySigningKey},
	})
	err := handler.Handle(context.Background(), retryTask(t, relay.Callback{OrderID: "order-9", Status: omnikassa.StatusCompleted}))
	require.NoError(t, err)

	q := got.URL.Query()
	require.Equal(t, "order-9", q.Get("order_id"))
	require.True(t, calc.Verify(q.Get("signature"), "order-9", "COMPLETED"))
}

func TestRetryHandlerFailsWhenStoreRejects(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	handler := newRetryHandler(t, srv, stubCredentials{
		creds: omnikassa.Credentials{RefreshToken: "rt", SigningKey: relaySigningKey},
	})
	err := handler.Handle(context.Background(), retryTask(t, relay.Callback{OrderID: "order-9", Status: omnikassa.StatusCompleted}))
	require.Error(t, err)
}

func TestRetryHandlerFailsWithoutCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	handler := newRetryHandler(t, srv, stubCredentials{})
	err := handler.Handle(context.Background(), retryTask(t, relay.Callback{OrderID: "order-9", Status: omnikassa.StatusCompleted}))
	require.ErrorContains(t, err, "no credentials")
}

func TestRetryHandlerRejectsBadPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	handler := newRetryHandler(t, srv, stubCredentials{
		creds: omnikassa.Credentials{RefreshToken: "rt", SigningKey: relaySigningKey},
	})
	err := handler.Handle(context.Background(), queue.Task{Kind: relay.TaskKind, Payload: []byte("{")})
	require.Error(t, err)
}
