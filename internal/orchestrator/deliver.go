package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genorch/internal/domain"
)

// LogDeliverer writes deliveries to the log. It is the default sink when no
// webhook is configured.
type LogDeliverer struct {
	logger zerolog.Logger
}

func NewLogDeliverer(logger zerolog.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger}
}

func (d *LogDeliverer) Deliver(_ context.Context, msg domain.Delivery) error {
	d.logger.Info().
		Str("job_id", msg.JobID).
		Str("user_id", msg.UserID).
		Str("kind", string(msg.Kind)).
		Str("status", string(msg.Status)).
		Strs("outputs", msg.Outputs).
		Bool("refunded", msg.Refunded).
		Msg(msg.Message)
	return nil
}

// WebhookOptions configures a WebhookDeliverer.
type WebhookOptions struct {
	URL        string
	Secret     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// WebhookDeliverer POSTs each delivery as JSON to a fixed URL.
type WebhookDeliverer struct {
	url        string
	secret     string
	httpClient *http.Client
}

func NewWebhookDeliverer(opts WebhookOptions) (*WebhookDeliverer, error) {
	target := strings.TrimSpace(opts.URL)
	if target == "" {
		return nil, fmt.Errorf("webhook deliverer: url is required")
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &WebhookDeliverer{url: target, secret: opts.Secret, httpClient: client}, nil
}

func (d *WebhookDeliverer) Deliver(ctx context.Context, msg domain.Delivery) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("webhook: encode delivery: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", msg.JobID)
	if d.secret != "" {
		req.Header.Set("Authorization", "Bearer "+d.secret)
	}
	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("webhook: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
