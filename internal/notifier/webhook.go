package notifier

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"CapIot.telemetry/internal/models"
	"github.com/go-resty/resty/v2"
)

const (
	// DefaultTimeout bounds a single webhook delivery.
	DefaultTimeout = 5 * time.Second
	maxRedirects   = 2
)

// WebhookNotifier POSTs each event as JSON to a fixed endpoint. It never
// retries.
type WebhookNotifier struct {
	client *resty.Client
	url    string
}

// NewWebhookNotifier creates a notifier for url. A zero timeout means
// DefaultTimeout.
func NewWebhookNotifier(url string, timeout time.Duration) *WebhookNotifier {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetRedirectPolicy(resty.RedirectPolicyFunc(limitRedirects)).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "capiot-telemetry-alerts")
	return &WebhookNotifier{client: client, url: url}
}

func (w *WebhookNotifier) Notify(ctx context.Context, event models.AlertEvent) error {
	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(event).
		Post(w.url)
	if err != nil {
		return &DeliveryError{Target: "webhook", Err: sanitize(err)}
	}
	if !resp.IsSuccess() {
		return &DeliveryError{Target: "webhook", Status: resp.StatusCode()}
	}
	return nil
}

// Close releases idle connections.
func (w *WebhookNotifier) Close() error {
	w.client.GetClient().CloseIdleConnections()
	return nil
}

// limitRedirects follows at most maxRedirects hops. via holds the requests
// already sent, so the n-th redirect sees len(via) == n.
func limitRedirects(_ *http.Request, via []*http.Request) error {
	if len(via) > maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	return nil
}
