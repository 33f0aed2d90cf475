package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// Notifier port.
//
// The outbound channel is opaque to the engine: WhatsApp gateway,
// webhook, dashboard hub — anything that can push a text body to a
// contact handle. Per-contact FIFO is sufficient; no cross-contact
// ordering is assumed.

var (
	// ErrThrottled is the transient rate-limit rejection. Recorded as a
	// failed attempt and naturally retried on the next delivery cycle.
	ErrThrottled = errors.New("notifier throttled")

	// ErrTransport is a hard send failure. Not retried in-cycle.
	ErrTransport = errors.New("notifier transport error")
)

type Notifier interface {
	Send(ctx context.Context, contact, body string) error
}

// NotifierFunc adapts a function to the Notifier port.
type NotifierFunc func(ctx context.Context, contact, body string) error

func (f NotifierFunc) Send(ctx context.Context, contact, body string) error {
	return f(ctx, contact, body)
}

// WebhookNotifier POSTs {contact, body} as JSON to a gateway endpoint.
// Lets the engine run end-to-end without the chat transport.
type WebhookNotifier struct {
	url        string
	headers    map[string]string
	httpClient *http.Client
}

func NewWebhookNotifier(url string, headers map[string]string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		headers:    headers,
		httpClient: &http.Client{Timeout: 5 * time.Second},
	}
}

func (n *WebhookNotifier) Send(ctx context.Context, contact, body string) error {
	payload, err := json.Marshal(map[string]string{"contact": contact, "body": body})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewBuffer(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, val := range n.headers {
		req.Header.Set(key, val)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrThrottled
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("%w: gateway returned status %d", ErrTransport, resp.StatusCode)
	}
	return nil
}
