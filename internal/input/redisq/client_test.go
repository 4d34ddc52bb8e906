package redisq

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"killwatch/internal/input"
)

func TestNextDelivery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("queueID"); got != "kw-test" {
			t.Errorf("queueID = %q, want kw-test", got)
		}
		if got := r.URL.Query().Get("ttw"); got != "10" {
			t.Errorf("ttw = %q, want 10", got)
		}
		_, _ = w.Write([]byte(`{"package":{"kill_id":1,"kill_hash":"ab","solar_system_id":2}}`))
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, QueueID: "kw-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	body, err := c.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !strings.Contains(string(body), `"kill_id":1`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestNextRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, QueueID: "kw-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	_, err = c.Next(context.Background())
	var rl *input.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Errorf("retry after = %s, want 7s", rl.RetryAfter)
	}
}

func TestNextRateLimitedWithoutHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, QueueID: "kw-test", RateLimitWait: 12 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	_, err = c.Next(context.Background())
	var rl *input.RateLimitError
	if !errors.As(err, &rl) {
		t.Fatalf("expected RateLimitError, got %v", err)
	}
	if rl.RetryAfter != 12*time.Second {
		t.Errorf("retry after = %s, want configured fallback 12s", rl.RetryAfter)
	}
}

func TestNextServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewClient(Config{URL: srv.URL, QueueID: "kw-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	defer c.Close()

	_, err = c.Next(context.Background())
	if err == nil {
		t.Fatal("expected error for 502 response")
	}
	var rl *input.RateLimitError
	if errors.As(err, &rl) {
		t.Fatal("502 must not be treated as rate limiting")
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(Config{QueueID: "x"}); err == nil {
		t.Error("expected error for missing url")
	}
	if _, err := NewClient(Config{URL: "http://feed.local"}); err == nil {
		t.Error("expected error for missing queue id")
	}
}
