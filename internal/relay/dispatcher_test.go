package relay_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-relay/internal/obs"
	"github.com/noah-isme/payment-relay/internal/omnikassa"
	"github.com/noah-isme/payment-relay/internal/queue"
	"github.com/noah-isme/payment-relay/internal/relay"
	"github.com/noah-isme/payment-relay/internal/resilience"
)

func TestMain(m *testing.M) {
	obs.MustRegisterDomainMetrics("test", nil)
	os.Exit(m.Run())
}

var relaySigningKey = []byte("relay-signing-key")

func newDispatcher(srv *httptest.Server, concurrency int) *relay.Dispatcher {
	return &relay.Dispatcher{
		HTTP: &resilience.HTTPClient{
			Client:      srv.Client(),
			Breaker:     resilience.NewBreaker(1, 1, time.Second),
			MaxAttempts: 1,
			Timeout:     time.Second,
			Target:      "store-webhook",
		},
		Log:         zerolog.Nop(),
		WebhookURL:  srv.URL,
		Concurrency: concurrency,
		MaxAttempts: 3,
	}
}

func TestDeliverSignsCallback(t *testing.T) {
	calc := omnikassa.NewCalculator(relaySigningKey)
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := newDispatcher(srv, 1)
	err := d.Deliver(context.Background(), calc, relay.Callback{OrderID: "order-1", Status: omnikassa.StatusCompleted})
	require.NoError(t, err)

	q := got.URL.Query()
	require.Equal(t, "order-1", q.Get("order_id"))
	require.Equal(t, "COMPLETED", q.Get("status"))
	require.True(t, calc.Verify(q.Get("signature"), "order-1", "COMPLETED"))
}

func TestDeliverPreservesExistingQuery(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := newDispatcher(srv, 1)
	d.WebhookURL = srv.URL + "/hook?source=psp"
	calc := omnikassa.NewCalculator(relaySigningKey)
	require.NoError(t, d.Deliver(context.Background(), calc, relay.Callback{OrderID: "o", Status: omnikassa.StatusExpired}))
	require.Equal(t, "psp", got.URL.Query().Get("source"))
}

func TestDeliverRejectedByStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	d := newDispatcher(srv, 1)
	calc := omnikassa.NewCalculator(relaySigningKey)
	err := d.Deliver(context.Background(), calc, relay.Callback{OrderID: "o", Status: omnikassa.StatusCancelled})
	require.ErrorContains(t, err, "store answered")
}

func TestDispatchBoundsConcurrency(t *testing.T) {
	const limit = 3
	var inFlight, peak atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		current := inFlight.Add(1)
		for {
			observed := peak.Load()
			if current <= observed || peak.CompareAndSwap(observed, current) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inFlight.Add(-1)
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	d := newDispatcher(srv, limit)
	calc := omnikassa.NewCalculator(relaySigningKey)
	callbacks := make([]relay.Callback, 12)
	for i := range callbacks {
		callbacks[i] = relay.Callback{OrderID: fmt.Sprintf("order-%d", i), Status: omnikassa.StatusCompleted}
	}
	d.Dispatch(context.Background(), calc, callbacks)

	require.LessOrEqual(t, peak.Load(), int64(limit))
	require.Zero(t, inFlight.Load())
}

func TestDispatchQueuesFailedDeliveries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	d := newDispatcher(srv, 2)
	d.Queue = &queue.Enqueuer{R: client, Prefix: "relaytest", DedupTTL: time.Minute}

	calc := omnikassa.NewCalculator(relaySigningKey)
	d.Dispatch(context.Background(), calc, []relay.Callback{
		{OrderID: "order-1", Status: omnikassa.StatusCompleted},
	})

	queued, err := client.ZCard(context.Background(), "relaytest:queue:"+relay.TaskKind).Result()
	require.NoError(t, err)
	require.Equal(t, int64(1), queued)
}
