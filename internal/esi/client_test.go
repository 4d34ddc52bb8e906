package esi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(baseURL string, retries int) *Client {
	c := NewClient(Config{BaseURL: baseURL, MaxRetries: retries})
	c.retryWait = time.Millisecond
	return c
}

func TestFetchKillmail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/killmails/42/cafe01/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"killmail_id":42}`))
	}))
	defer srv.Close()

	body, err := newTestClient(srv.URL, 2).FetchKillmail(context.Background(), 42, "cafe01")
	if err != nil {
		t.Fatalf("FetchKillmail: %v", err)
	}
	if !strings.Contains(string(body), `"killmail_id":42`) {
		t.Errorf("unexpected body %s", body)
	}
}

func TestFetchKillmailNotFoundIsFinal(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).FetchKillmail(context.Background(), 42, "bad")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("404 retried %d times, want a single attempt", calls.Load())
	}
}

func TestFetchKillmailRetriesUpstreamErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"killmail_id":42}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 3).FetchKillmail(context.Background(), 42, "cafe01")
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want 3", calls.Load())
	}
}

func TestFetchKillmailGivesUpAfterBudget(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL, 2).FetchKillmail(context.Background(), 42, "cafe01")
	if err == nil {
		t.Fatal("expected error once retry budget is spent")
	}
	if calls.Load() != 3 {
		t.Errorf("calls = %d, want initial attempt plus two retries", calls.Load())
	}
}
