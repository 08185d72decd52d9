package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHealthHandler_HealthyReturns200(t *testing.T) {
	checker := NewChecker([]Probe{&fakeProbe{name: "redis", status: ComponentUp}}, nil, time.Now(), "test")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	healthHandler(checker)(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var report Report
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if report.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.Status)
	}
}

func TestHealthHandler_UnhealthyReturns503(t *testing.T) {
	checker := NewChecker([]Probe{&fakeProbe{name: "redis", status: ComponentDown, message: "boom"}}, nil, time.Now(), "test")
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()

	healthHandler(checker)(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}

func TestMetricsHandler_Returns200JSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()

	metricsHandler()(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected application/json, got %s", ct)
	}
}

func TestNewServer_RegistersAllThreeEndpoints(t *testing.T) {
	checker := NewChecker([]Probe{&fakeProbe{name: "redis", status: ComponentUp}}, nil, time.Now(), "test")
	srv := NewServer(":0", checker, time.Now())

	ts := httptest.NewServer(srv.httpServer.Handler)
	defer ts.Close()

	for _, path := range []string{"/health", "/metrics", "/metrics/prometheus"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, resp.StatusCode)
		}
	}
}

func TestServer_ShutdownStopsCleanly(t *testing.T) {
	checker := NewChecker(nil, nil, time.Now(), "test")
	srv := NewServer("127.0.0.1:0", checker, time.Now())

	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe() }()

	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("unexpected shutdown error: %v", err)
	}

	if err := <-done; err != nil && err != http.ErrServerClosed {
		t.Errorf("unexpected serve error: %v", err)
	}
}
