package telemetry

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDisabledClientIsNoOp(t *testing.T) {
	c := NewClient("", "run-a")
	if c.IsEnabled() {
		t.Fatal("empty endpoint produced an enabled client")
	}
	if err := c.LogMetrics(map[string]float64{"loss": 1}, 0); err != nil {
		t.Errorf("disabled client returned error: %v", err)
	}
}

func TestLogMetricsPostsPayload(t *testing.T) {
	var got metricsPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/metrics" {
			t.Errorf("path = %q, want /api/metrics", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	c := NewClient(server.URL, "exp-7")
	if !c.IsEnabled() {
		t.Fatal("client with endpoint not enabled")
	}
	if err := c.LogMetrics(map[string]float64{"training_loss": 0.42, "dice": 0.8}, 3); err != nil {
		t.Fatalf("LogMetrics failed: %v", err)
	}

	if got.Run != "exp-7" || got.Epoch != 3 {
		t.Errorf("payload = %+v", got)
	}
	if got.Metrics["training_loss"] != 0.42 {
		t.Errorf("metrics = %v", got.Metrics)
	}
}

func TestLogMetricsSurfacesServerErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	c := NewClient(server.URL, "run-b")
	if err := c.LogMetrics(map[string]float64{"loss": 1}, 0); err == nil {
		t.Fatal("server error did not surface")
	}
}
