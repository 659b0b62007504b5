package callback_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/payment-relay/internal/callback"
	"github.com/noah-isme/payment-relay/internal/credentials"
	"github.com/noah-isme/payment-relay/internal/omnikassa"
	"github.com/noah-isme/payment-relay/internal/relay"
	"github.com/noah-isme/payment-relay/internal/resilience"
	"github.com/noah-isme/payment-relay/internal/statuslog"
)

var pollSigningKey = []byte("poll-signing-key")

type fakeGateway struct {
	pages   []omnikassa.StatusPage
	fetches int
	err     error
}

func (g *fakeGateway) Announce(context.Context, omnikassa.MerchantOrder, omnikassa.Credentials) (string, error) {
	return "", errors.New("not implemented")
}

func (g *fakeGateway) FetchStatuses(context.Context, string, omnikassa.Credentials) (omnikassa.StatusPage, error) {
	if g.err != nil {
		return omnikassa.StatusPage{}, g.err
	}
	if g.fetches >= len(g.pages) {
		return omnikassa.StatusPage{}, errors.New("fetched past the last page")
	}
	page := g.pages[g.fetches]
	g.fetches++
	return page, nil
}

type storeRecorder struct {
	mu     sync.Mutex
	orders []string
}

func (s *storeRecorder) handler(t *testing.T) http.HandlerFunc {
	calc := omnikassa.NewCalculator(pollSigningKey)
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.True(t, calc.Verify(q.Get("signature"), q.Get("order_id"), q.Get("status")))
		s.mu.Lock()
		s.orders = append(s.orders, q.Get("order_id"))
		s.mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}
}

func (s *storeRecorder) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.orders...)
}

func signedPage(more bool, results ...omnikassa.OrderResult) omnikassa.StatusPage {
	calc := omnikassa.NewCalculator(pollSigningKey)
	page := omnikassa.StatusPage{MoreAvailable: more, Results: results}
	page.Signature = calc.Sign(page.SignatureFields()...)
	return page
}

func signedNotification() omnikassa.Notification {
	calc := omnikassa.NewCalculator(pollSigningKey)
	n := omnikassa.Notification{
		Authentication: "notif-token",
		Expiry:         time.Now().Add(time.Hour).Format(time.RFC3339),
		EventName:      omnikassa.StatusChangedEvent,
		PoiID:          "1234",
	}
	n.Signature = calc.Sign(n.SignatureFields()...)
	return n
}

func newPoller(t *testing.T, gw *fakeGateway, store *storeRecorder) *callback.Poller {
	srv := httptest.NewServer(store.handler(t))
	t.Cleanup(srv.Close)

	dispatcher := &relay.Dispatcher{
		HTTP: &resilience.HTTPClient{
			Client:      srv.Client(),
			Breaker:     resilience.NewBreaker(1, 1, time.Second),
			MaxAttempts: 1,
			Timeout:     time.Second,
			Target:      "store-webhook",
		},
		Log:         zerolog.Nop(),
		WebhookURL:  srv.URL,
		Concurrency: 2,
	}
	return &callback.Poller{
		Gateway:     gw,
		Credentials: stubCredentials{creds: omnikassa.Credentials{RefreshToken: "rt", SigningKey: pollSigningKey}},
		Relay:       dispatcher,
		Status:      &statuslog.Logger{Log: zerolog.Nop()},
		Log:         zerolog.Nop(),
		Provider:    "omnikassa",
		Env:         credentials.EnvironmentTest,
	}
}

func TestProcessDrainsAllPages(t *testing.T) {
	gw := &fakeGateway{pages: []omnikassa.StatusPage{
		signedPage(true, omnikassa.OrderResult{MerchantOrderID: "o1", OrderStatus: omnikassa.StatusCompleted}),
		signedPage(true, omnikassa.OrderResult{MerchantOrderID: "o2", OrderStatus: omnikassa.StatusInProgress}),
		signedPage(false,
			omnikassa.OrderResult{MerchantOrderID: "o3", OrderStatus: omnikassa.StatusCancelled},
			omnikassa.OrderResult{MerchantOrderID: "o4", OrderStatus: omnikassa.StatusExpired},
		),
	}}
	store := &storeRecorder{}

	require.NoError(t, newPoller(t, gw, store).Process(context.Background(), signedNotification()))

	require.Equal(t, 3, gw.fetches)
	// o2 is IN_PROGRESS and must not be relayed.
	require.ElementsMatch(t, []string{"o1", "o3", "o4"}, store.received())
}

func TestProcessRelaysUndocumentedStatuses(t *testing.T) {
	// Statuses outside the documented enum still mean the payment left
	// IN_PROGRESS; the store hears about them like any other outcome.
	gw := &fakeGateway{pages: []omnikassa.StatusPage{
		signedPage(false,
			omnikassa.OrderResult{MerchantOrderID: "o-refund", OrderStatus: "REFUNDED"},
			omnikassa.OrderResult{MerchantOrderID: "o-wait", OrderStatus: omnikassa.StatusInProgress},
		),
	}}
	store := &storeRecorder{}

	require.NoError(t, newPoller(t, gw, store).Process(context.Background(), signedNotification()))

	require.Equal(t, []string{"o-refund"}, store.received())
}

func TestProcessRejectsTamperedNotification(t *testing.T) {
	gw := &fakeGateway{pages: []omnikassa.StatusPage{signedPage(false)}}
	store := &storeRecorder{}
	poller := newPoller(t, gw, store)

	notif := signedNotification()
	notif.Authentication = "swapped-token"
	require.NoError(t, poller.Process(context.Background(), notif))

	require.Zero(t, gw.fetches)
	require.Empty(t, store.received())
}

func TestProcessStopsOnTamperedPage(t *testing.T) {
	badPage := signedPage(true, omnikassa.OrderResult{MerchantOrderID: "o1", OrderStatus: omnikassa.StatusCompleted})
	badPage.Results[0].MerchantOrderID = "o1-tampered"

	gw := &fakeGateway{pages: []omnikassa.StatusPage{badPage,
		signedPage(false, omnikassa.OrderResult{MerchantOrderID: "o2", OrderStatus: omnikassa.StatusCompleted}),
	}}
	store := &storeRecorder{}

	require.NoError(t, newPoller(t, gw, store).Process(context.Background(), signedNotification()))

	require.Equal(t, 1, gw.fetches)
	require.Empty(t, store.received())
}

func TestProcessIgnoresForeignEvents(t *testing.T) {
	gw := &fakeGateway{pages: []omnikassa.StatusPage{signedPage(false)}}
	store := &storeRecorder{}
	poller := newPoller(t, gw, store)

	calc := omnikassa.NewCalculator(pollSigningKey)
	notif := signedNotification()
	notif.EventName = "merchant.refund.status.changed"
	notif.Signature = calc.Sign(notif.SignatureFields()...)
	require.NoError(t, poller.Process(context.Background(), notif))

	require.Zero(t, gw.fetches)
}

func TestProcessWithoutCredentialsDoesNothing(t *testing.T) {
	gw := &fakeGateway{pages: []omnikassa.StatusPage{signedPage(false)}}
	store := &storeRecorder{}
	poller := newPoller(t, gw, store)
	poller.Credentials = stubCredentials{}

	require.Error(t, poller.Process(context.Background(), signedNotification()))
	require.Zero(t, gw.fetches)
}
