package webhook

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jnst/booking-outbox/internal/model"
)

// Sender delivers one event to one endpoint and reports the HTTP status received.
type Sender interface {
	Deliver(ctx context.Context, endpoint *model.WebhookEndpoint, event *model.WebhookEvent) (int, error)
}

type Client struct {
	http    *http.Client
	timeout time.Duration
}

func NewClient(timeout time.Duration) *Client {
	return &Client{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// NewClientWithHTTP delivers through c, for example a client that trusts a private CA.
func NewClientWithHTTP(c *http.Client, timeout time.Duration) *Client {
	return &Client{http: c, timeout: timeout}
}

// Deliver POSTs the event payload. Only a 2xx response counts as acknowledged.
func (c *Client) Deliver(ctx context.Context, endpoint *model.WebhookEndpoint, event *model.WebhookEvent) (int, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	body := []byte(event.Payload)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, &model.DeliveryError{EndpointID: endpoint.ID, Err: fmt.Errorf("failed to build request: %w", err)}
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(EventTypeHeader, string(event.EventType))
	req.Header.Set(EventIDHeader, event.ID)
	if endpoint.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(endpoint.Secret, body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, &model.DeliveryError{EndpointID: endpoint.ID, Err: err}
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp.StatusCode, &model.DeliveryError{
			EndpointID: endpoint.ID,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	return resp.StatusCode, nil
}
