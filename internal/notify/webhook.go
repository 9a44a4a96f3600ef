package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/localmesh/relay/internal/data"
	"github.com/localmesh/relay/internal/wire"
)

// WebhookPusher hands notifications to the external push-delivery
// service over HTTP. The service owns platform specifics (APNs, FCM,
// web push); the relay only posts the subscription and the payload.
type WebhookPusher struct {
	url    string
	client *http.Client
}

// NewWebhookPusher returns a Pusher posting to the given endpoint.
func NewWebhookPusher(url string) *WebhookPusher {
	return &WebhookPusher{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type webhookBody struct {
	Subscription data.PushSubscription `json:"subscription"`
	Notification wire.Notification     `json:"notification"`
}

// Send posts one notification. Any non-2xx response is an error so the
// dispatcher can log the failed delivery.
func (p *WebhookPusher) Send(ctx context.Context, sub data.PushSubscription, note wire.Notification) error {
	body, err := json.Marshal(webhookBody{Subscription: sub, Notification: note})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("push webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("push webhook returned %d", resp.StatusCode)
	}
	return nil
}
