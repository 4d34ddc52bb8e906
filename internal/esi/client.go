package esi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotFound marks a kill reference the detail service does not know,
// usually a stale or corrupt hash. Not retryable.
var ErrNotFound = errors.New("killmail not found")

const maxKillmailBytes = 8 << 20

// Config configures the kill detail client.
type Config struct {
	BaseURL    string
	Timeout    time.Duration
	MaxRetries int
	UserAgent  string
}

// Client fetches full kill documents by (id, hash) reference.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
	userAgent  string
	retryWait  time.Duration
}

// NewClient creates a detail client.
func NewClient(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://esi.evetech.net/latest"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		baseURL:    cfg.BaseURL,
		maxRetries: cfg.MaxRetries,
		userAgent:  cfg.UserAgent,
		retryWait:  2 * time.Second,
	}
}

// FetchKillmail retrieves the kill document for one reference. Transient
// upstream failures are retried a bounded number of times with a fixed wait;
// a missing document returns ErrNotFound immediately.
func (c *Client) FetchKillmail(ctx context.Context, killID int64, hash string) ([]byte, error) {
	u := fmt.Sprintf("%s/killmails/%d/%s/", c.baseURL, killID, hash)

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryWait):
			}
		}

		body, retryable, err := c.get(ctx, u)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) get(ctx context.Context, u string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, ErrNotFound
	// 420 is the upstream's error-limit status.
	case resp.StatusCode == 420 || resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("kill detail rate limited (status %d)", resp.StatusCode)
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, true, fmt.Errorf("kill detail upstream error (status %d)", resp.StatusCode)
	case resp.StatusCode >= 300:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, false, fmt.Errorf("kill detail returned status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxKillmailBytes))
	if err != nil {
		return nil, true, err
	}
	return data, false, nil
}
