package notifyhttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"killwatch/pkg/models"
)

// Sender posts notifications to a webhook endpoint.
type Sender struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// Config configures the webhook sender.
type Config struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// NewSender creates a webhook sender.
func NewSender(cfg Config) (*Sender, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webhook URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sender{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Send posts one notification as JSON.
func (s *Sender) Send(ctx context.Context, n *models.Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook request failed with status %s", resp.Status)
	}
	return nil
}

// Close releases HTTP resources.
func (s *Sender) Close() error {
	return nil
}
