package notify

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/webhealth/canary/agent/internal/alarm"
	"github.com/webhealth/canary/agent/internal/config"
)

// Webhook posts alarm events to a Slack, Teams or generic HTTP endpoint.
type Webhook struct {
	kind   string
	url    string
	client *http.Client
}

// NewWebhook returns a Webhook for cfg. The URL is resolved from the
// environment once, at construction.
func NewWebhook(cfg config.WebhookConfig) *Webhook {
	return &Webhook{
		kind:   cfg.Type,
		url:    cfg.URL(),
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Name() string { return "webhook:" + w.kind }

// Deliver posts ev in the payload format of the webhook type.
func (w *Webhook) Deliver(ctx context.Context, ev alarm.Event) error {
	if w.url == "" {
		return fmt.Errorf("no URL configured")
	}

	var payload any
	switch w.kind {
	case "slack":
		payload = map[string]string{
			"text": fmt.Sprintf("*%s* %s: %s -> %s\n%s",
				stateLabel(ev.NewState), ev.AlarmName, ev.PreviousState, ev.NewState, ev.Reason),
		}
	case "teams":
		payload = map[string]any{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": stateColor(ev.NewState),
			"summary":    ev.AlarmName,
			"title":      fmt.Sprintf("WebHealth %s: %s", ev.NewState, ev.AlarmName),
			"text":       ev.Reason,
		}
	case "http":
		payload = map[string]any{"event": ev}
	default:
		return fmt.Errorf("unknown webhook type %q", w.kind)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	return w.post(ctx, body)
}

func (w *Webhook) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func stateLabel(s alarm.State) string {
	switch s {
	case alarm.Alarm:
		return "[ALARM]"
	case alarm.OK:
		return "[OK]"
	default:
		return "[INSUFFICIENT_DATA]"
	}
}

func stateColor(s alarm.State) string {
	switch s {
	case alarm.Alarm:
		return "FF4F6A"
	case alarm.OK:
		return "2ECC71"
	default:
		return "FFAB40"
	}
}
