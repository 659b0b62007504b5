package omnikassa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/noah-isme/payment-relay/internal/resilience"
)

// Client talks to the gateway over HTTP. It implements Gateway.
type Client struct {
	BaseURL string
	HTTP    *resilience.HTTPClient
}

const (
	refreshPath = "/gatekeeper/refresh"
	orderPath   = "/order/server/api/v2/order"
	eventsPath  = "/order/server/api/v2/events/results/" + StatusChangedEvent
)

// Announce exchanges the refresh token for an access token and submits the
// merchant order. It returns the gateway's redirect URL verbatim. Credential
// rejections surface as *AuthenticationError; no retry is attempted beyond
// what the transport's own policy allows.
func (c *Client) Announce(ctx context.Context, order MerchantOrder, creds Credentials) (string, error) {
	ctx, span := otel.Tracer("omnikassa.Client").Start(ctx, "Client.Announce")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", order.MerchantOrderID))

	accessToken, err := c.refreshAccessToken(ctx, creds)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	body, err := json.Marshal(order)
	if err != nil {
		return "", fmt.Errorf("omnikassa: encode order: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(orderPath), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	var announced struct {
		RedirectURL string `json:"redirectUrl"`
	}
	if err := c.do(ctx, req, "announce", &announced); err != nil {
		span.RecordError(err)
		return "", err
	}
	if strings.TrimSpace(announced.RedirectURL) == "" {
		return "", fmt.Errorf("omnikassa: announce response carries no redirect url")
	}
	return announced.RedirectURL, nil
}

// FetchStatuses retrieves the next page of queued order status results. The
// page signature is returned unverified; callers own verification.
func (c *Client) FetchStatuses(ctx context.Context, notificationToken string, creds Credentials) (StatusPage, error) {
	ctx, span := otel.Tracer("omnikassa.Client").Start(ctx, "Client.FetchStatuses")
	defer span.End()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(eventsPath), nil)
	if err != nil {
		return StatusPage{}, err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(notificationToken))

	var page StatusPage
	if err := c.do(ctx, req, "poll", &page); err != nil {
		span.RecordError(err)
		return StatusPage{}, err
	}
	span.SetAttributes(
		attribute.Int("omnikassa.poll.results", len(page.Results)),
		attribute.Bool("omnikassa.poll.more", page.MoreAvailable),
	)
	return page, nil
}

func (c *Client) refreshAccessToken(ctx context.Context, creds Credentials) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(refreshPath), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimSpace(creds.RefreshToken))

	var refreshed struct {
		Token string `json:"token"`
	}
	if err := c.do(ctx, req, "token refresh", &refreshed); err != nil {
		return "", err
	}
	if err := checkAccessToken(refreshed.Token, time.Now()); err != nil {
		return "", err
	}
	return refreshed.Token, nil
}

func (c *Client) do(ctx context.Context, req *http.Request, operation string, out any) error {
	if c == nil || c.HTTP == nil {
		return fmt.Errorf("omnikassa: client not configured")
	}
	resp, err := c.HTTP.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("omnikassa: %s: %w", operation, err)
	}
	defer func() { _ = resp.Body.Close() }()
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return &AuthenticationError{Operation: operation, Status: resp.StatusCode}
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("omnikassa: %s returned %d: %s", operation, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("omnikassa: decode %s response: %w", operation, err)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(strings.TrimSpace(c.BaseURL), "/") + path
}
