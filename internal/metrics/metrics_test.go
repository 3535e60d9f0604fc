package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/phqovo/slimming/internal/models"
)

func TestMetricsRecordingAndHandler(t *testing.T) {
	m := NewMetrics("test")

	m.RecordRequestLatency("/health", "GET", "200", 0.01)
	m.RecordHTTPRequest("/health", "GET", "200")
	m.IncHTTPRequestsInFlight()
	m.DecHTTPRequestsInFlight()
	m.RecordError("timeout", "/health", "GET")
	m.ObserveRun(models.CategoryWeight, models.RunStatusSuccess, 2*time.Second, 42)
	m.ObserveRun(models.CategorySleep, models.RunStatusFailed, time.Second, 0)
	m.RecordBusy(models.CategoryWeight)
	m.SetScheduledJobs(3)
	m.RecordSessionRefresh()

	req := httptest.NewRequest("GET", "/metrics", nil)
	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, req)

	if w.Code != 200 {
		t.Fatalf("expected status 200, got %d", w.Code)
	}

	body := w.Body.String()
	if !strings.Contains(body, "test_sync_runs_total") {
		t.Fatalf("expected metrics output to contain sync run counter")
	}
	if !strings.Contains(body, "test_request_latency_seconds") {
		t.Fatalf("expected metrics output to contain request latency metric")
	}

	if _, err := m.registry.Gather(); err != nil {
		t.Fatalf("expected gather to succeed: %v", err)
	}
}
