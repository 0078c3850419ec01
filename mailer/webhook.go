package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

// WebhookProvider forwards messages to an external delivery hook as
// JSON. The hook owns the actual SMTP hop.
type WebhookProvider struct {
	client *http.Client
	logger *slog.Logger
	url    string
}

// NewWebhookProvider creates a provider posting to url.
func NewWebhookProvider(url string, logger *slog.Logger) *WebhookProvider {
	return &WebhookProvider{
		url:    url,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// Name identifies the transport.
func (*WebhookProvider) Name() string { return "webhook" }

type webhookPayload struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	From      string `json:"from"`
	ReplyTo   string `json:"replyTo"`
	LeadID    string `json:"leadId"`
	To        string `json:"to"`
	Subject   string `json:"subject"`
	Text      string `json:"text"`
}

// Send posts msg to the webhook, retrying transient failures. A 4xx
// response is permanent and aborts the retry loop.
func (p *WebhookProvider) Send(ctx context.Context, msg Message) error {
	payload := webhookPayload{
		Type:      "auto_reply",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		From:      msg.From,
		ReplyTo:   msg.ReplyTo,
		LeadID:    msg.LeadID,
		To:        msg.To,
		Subject:   msg.Subject,
		Text:      msg.Text,
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := p.client.Do(req)
			if err != nil {
				p.logger.Warn("Webhook request failed, will retry", "lead_id", msg.LeadID, "error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					p.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode >= 400 && resp.StatusCode < 500 {
				return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				p.logger.Warn("Webhook returned non-2xx status, will retry",
					"status_code", resp.StatusCode, "lead_id", msg.LeadID)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}
			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(time.Minute),
		retry.MaxJitter(5*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Info("Retrying webhook delivery after error", "attempt", n, "error", err)
		}),
	)
}
