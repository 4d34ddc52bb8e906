package redisq

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"killwatch/internal/input"
)

// Feed servers cap the long-poll hold at ten seconds; asking for more just
// gets clamped server-side.
const maxTTW = 10

const maxPayloadBytes = 1 << 20

// Config configures the long-poll feed client.
type Config struct {
	URL           string
	QueueID       string
	TTW           int
	Timeout       time.Duration
	UserAgent     string
	RateLimitWait time.Duration
}

// Client polls a RedisQ-style kill feed over HTTP. Each request identifies
// the subscription by queue ID so the server can hold per-consumer cursors.
type Client struct {
	httpClient    *http.Client
	url           string
	queueID       string
	ttw           int
	userAgent     string
	rateLimitWait time.Duration
}

// NewClient creates a feed client.
func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed url is required")
	}
	if cfg.QueueID == "" {
		return nil, fmt.Errorf("feed queue id is required")
	}
	if cfg.TTW <= 0 || cfg.TTW > maxTTW {
		cfg.TTW = maxTTW
	}
	if cfg.RateLimitWait <= 0 {
		cfg.RateLimitWait = 30 * time.Second
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		// The request legitimately idles for the whole hold window.
		timeout = time.Duration(cfg.TTW)*time.Second + 10*time.Second
	}

	return &Client{
		httpClient:    &http.Client{Timeout: timeout},
		url:           cfg.URL,
		queueID:       cfg.QueueID,
		ttw:           cfg.TTW,
		userAgent:     cfg.UserAgent,
		rateLimitWait: cfg.RateLimitWait,
	}, nil
}

// Next performs one long poll. A quiet window returns the server's empty
// package payload; rate limiting surfaces as *input.RateLimitError with the
// server-supplied delay when the response carries one.
func (c *Client) Next(ctx context.Context) ([]byte, error) {
	u := fmt.Sprintf("%s?queueID=%s&ttw=%d", c.url, url.QueryEscape(c.queueID), c.ttw)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &input.RateLimitError{RetryAfter: retryAfter(resp.Header, c.rateLimitWait)}
	}
	if resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPayloadBytes))
	if err != nil {
		return nil, err
	}
	return body, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func retryAfter(h http.Header, fallback time.Duration) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return fallback
}
