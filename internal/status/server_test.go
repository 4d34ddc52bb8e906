package status

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"killwatch/pkg/models"
)

type stubSource struct {
	healthy bool
	status  models.ServiceStatus
}

func (s *stubSource) Status() models.ServiceStatus { return s.status }
func (s *stubSource) Healthy() bool                { return s.healthy }

func TestEndpoints(t *testing.T) {
	src := &stubSource{
		healthy: true,
		status: models.ServiceStatus{
			StartedAt: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
			Poller:    models.PollerStatus{Running: true, Healthy: true, Polls: 42},
			Queues:    []models.QueueStatus{{Name: "ingest", Depth: 3, Capacity: 512}},
			Profiles:  2,
		},
	}
	srv := httptest.NewServer(NewServer(":0", src).srv.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("healthz = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatal(err)
	}
	var got models.ServiceStatus
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("status did not decode: %v", err)
	}
	resp.Body.Close()
	if got.Poller.Polls != 42 || got.Profiles != 2 {
		t.Errorf("status = %+v", got)
	}
	if len(got.Queues) != 1 || got.Queues[0].Name != "ingest" {
		t.Errorf("queues = %+v", got.Queues)
	}

	resp, err = http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d, want 200", resp.StatusCode)
	}

	// Degraded poller flips the health check.
	src.healthy = false
	resp, err = http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("healthz while degraded = %d, want 503", resp.StatusCode)
	}
}
